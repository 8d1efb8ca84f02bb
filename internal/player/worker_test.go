package player

import (
	"sync"
	"testing"
	"time"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
	"github.com/iltempo/transportcore/internal/pbctx"
)

type recordingInstrument struct {
	mu       sync.Mutex
	id       string
	received []midiwire.Queued
}

func (f *recordingInstrument) ID() string   { return f.id }
func (f *recordingInstrument) Hash() string { return f.id }
func (f *recordingInstrument) MapKey(key, channel uint8) (uint8, uint8) { return key, channel }
func (f *recordingInstrument) Enqueue(q midiwire.Queued) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, q)
	return nil
}
func (f *recordingInstrument) SampleRate() int  { return 48000 }
func (f *recordingInstrument) NumChannels() int { return 1 }
func (f *recordingInstrument) RenderAudio(n int) ([]float32, error) { return make([]float32, n), nil }

func (f *recordingInstrument) snapshot() []midiwire.Queued {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]midiwire.Queued, len(f.received))
	copy(out, f.received)
	return out
}

type listTrack struct {
	events []cache.Event
}

func (t *listTrack) ID() string           { return "t" }
func (t *listTrack) InstrumentID() string { return "inst" }
func (t *listTrack) ExportMIDI(cache.ExportOptions) []cache.Event { return t.events }

func buildTestCache(inst *recordingInstrument, events []cache.Event) *cache.Cache {
	orch := orchestra.New()
	orch.Add(inst)
	return cache.NewBuilder().Build([]cache.Track{&listTrack{events: events}}, orch, 0, 100, false, false)
}

func TestWorkerDispatchesEventsInWallClockOrder(t *testing.T) {
	inst := &recordingInstrument{id: "inst"}
	c := buildTestCache(inst, []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1, Kind: cache.KindNoteOn, Channel: 1, Key: 62, Value: 100},
	})

	ctx := &pbctx.Context{
		StartBeat:               0,
		EndBeat:                 1,
		StartBeatTempoMsPerBeat: 10,
		NumOutputChannels:       1,
		CCStates:                pbctx.NewCCStates(1),
	}

	p := NewPool(1)
	w := p.Acquire()

	start := time.Now()
	w.Run(RunConfig{Cache: c, FirstBeat: 0, LastBeat: 100, Ctx: ctx})
	elapsed := time.Since(start)

	if elapsed < 9*time.Millisecond {
		t.Errorf("expected the second event to wait roughly 10ms, returned after only %v", elapsed)
	}

	got := inst.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 dispatched messages, got %d", len(got))
	}
	if got[1].AtMs <= got[0].AtMs {
		t.Errorf("expected dispatch timestamps to increase, got %v then %v", got[0].AtMs, got[1].AtMs)
	}
}

func TestWorkerLoopsUntilSignaledToExit(t *testing.T) {
	inst := &recordingInstrument{id: "inst"}
	c := buildTestCache(inst, []cache.Event{
		{Beat: 0, Kind: cache.KindTempoMeta, MsPerBeat: 5},
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1, Kind: cache.KindNoteOn, Channel: 1, Key: 62, Value: 100},
	})

	ctx := &pbctx.Context{
		StartBeat:               0,
		RewindBeat:              0,
		EndBeat:                 1,
		StartBeatTempoMsPerBeat: 5,
		LoopMode:                true,
		NumOutputChannels:       1,
		CCStates:                pbctx.NewCCStates(1),
	}

	p := NewPool(1)
	w := p.Acquire()

	done := make(chan struct{})
	go func() {
		w.Run(RunConfig{Cache: c, FirstBeat: 0, LastBeat: 100, Ctx: ctx})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	w.SignalExit()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("worker did not stop after SignalExit")
	}

	got := inst.snapshot()
	if len(got) < 4 {
		t.Errorf("expected at least two loop iterations worth of events (>=4), got %d", len(got))
	}
}

func TestWorkerStopsWithinMaxStopCheckInterval(t *testing.T) {
	inst := &recordingInstrument{id: "inst"}
	c := buildTestCache(inst, []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1, Kind: cache.KindNoteOn, Channel: 1, Key: 62, Value: 100},
	})

	ctx := &pbctx.Context{
		StartBeat:               0,
		EndBeat:                 1,
		StartBeatTempoMsPerBeat: 1000, // second event is ~1000ms away
		NumOutputChannels:       1,
		CCStates:                pbctx.NewCCStates(1),
	}

	p := NewPool(1)
	w := p.Acquire()

	done := make(chan struct{})
	go func() {
		w.Run(RunConfig{Cache: c, FirstBeat: 0, LastBeat: 100, Ctx: ctx, MaxStopCheck: 20 * time.Millisecond})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	w.SignalExit()

	select {
	case <-done:
		if since := time.Since(start); since > 100*time.Millisecond {
			t.Errorf("worker took %v to stop, expected well under the ~1000ms event wait", since)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("worker did not honor SignalExit within its stop-check bound")
	}
}

func TestSetSpeedMultiplierRejectsOutOfRange(t *testing.T) {
	p := NewPool(1)
	w := p.Acquire()

	if err := w.SetSpeedMultiplier(MinSpeedMultiplier); err != ErrInvalidSpeedMultiplier {
		t.Errorf("expected ErrInvalidSpeedMultiplier at lower bound, got %v", err)
	}
	if err := w.SetSpeedMultiplier(MaxSpeedMultiplier); err != ErrInvalidSpeedMultiplier {
		t.Errorf("expected ErrInvalidSpeedMultiplier at upper bound, got %v", err)
	}
	if err := w.SetSpeedMultiplier(2.0); err != nil {
		t.Errorf("expected 2.0 to be accepted, got %v", err)
	}
}

func TestPoolAcquireReleaseReusesWorkers(t *testing.T) {
	p := NewPool(2)
	a := p.Acquire()
	b := p.Acquire()
	if p.idleLen() != 0 {
		t.Fatalf("expected 0 idle after acquiring both, got %d", p.idleLen())
	}

	p.Release(a)
	p.Release(b)
	if p.idleLen() != 2 {
		t.Fatalf("expected 2 idle after releasing both, got %d", p.idleLen())
	}
}
