package render

import (
	"sync"
	"testing"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
)

// seekBuffer adapts a bytes.Buffer into an io.WriteSeeker the way an
// *os.File would behave, sufficient for go-audio/wav's header backfill.
type seekBuffer struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := b.pos + len(p)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.data) + int(offset)
	}
	return int64(b.pos), nil
}

type toneInstrument struct {
	id       string
	queued   []midiwire.Queued
	consumed int
}

func (t *toneInstrument) ID() string   { return t.id }
func (t *toneInstrument) Hash() string { return t.id }
func (t *toneInstrument) MapKey(key, channel uint8) (uint8, uint8) { return key, channel }
func (t *toneInstrument) Enqueue(q midiwire.Queued) error {
	t.queued = append(t.queued, q)
	return nil
}
func (t *toneInstrument) SampleRate() int  { return 8000 }
func (t *toneInstrument) NumChannels() int { return 1 }
func (t *toneInstrument) RenderAudio(n int) ([]float32, error) {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.1
	}
	return out, nil
}

type renderTrack struct {
	events []cache.Event
}

func (t *renderTrack) ID() string           { return "t" }
func (t *renderTrack) InstrumentID() string { return "inst" }
func (t *renderTrack) ExportMIDI(cache.ExportOptions) []cache.Event { return t.events }

func TestRenderProducesNonEmptyWavAndPeaks(t *testing.T) {
	orch := orchestra.New()
	inst := &toneInstrument{id: "inst"}
	orch.Add(inst)

	c := cache.NewBuilder().Build([]cache.Track{&renderTrack{events: []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1, Kind: cache.KindNoteOff, Channel: 1, Key: 60},
	}}}, orch, 0, 1, false, false)

	r := New()
	buf := &seekBuffer{}
	var lastRendered int
	result, err := r.Render(buf, c, 0, 1, func(rendered, total int) { lastRendered = rendered })
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if result.TotalFrames <= 0 {
		t.Fatalf("expected positive TotalFrames, got %d", result.TotalFrames)
	}
	if lastRendered != result.TotalFrames {
		t.Errorf("expected final progress callback to report all frames rendered, got %d of %d", lastRendered, result.TotalFrames)
	}
	if buf.pos == 0 {
		t.Error("expected WAV bytes to have been written")
	}
	if len(result.Peaks) == 0 {
		t.Error("expected a non-empty peak thumbnail")
	}
	if len(inst.queued) != 2 {
		t.Errorf("expected 2 messages enqueued to the instrument, got %d", len(inst.queued))
	}
}

func TestRenderRejectsConcurrentUse(t *testing.T) {
	orch := orchestra.New()
	orch.Add(&toneInstrument{id: "inst"})
	c := cache.NewBuilder().Build([]cache.Track{&renderTrack{events: []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
	}}}, orch, 0, 1, false, false)

	r := New()
	r.busy = true
	_, err := r.Render(&seekBuffer{}, c, 0, 1, nil)
	if err != ErrRenderBusy {
		t.Errorf("expected ErrRenderBusy, got %v", err)
	}
}

func TestRenderEmptyCacheReturnsZeroResult(t *testing.T) {
	r := New()
	result, err := r.Render(&seekBuffer{}, nil, 0, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalFrames != 0 {
		t.Errorf("expected zero frames for an empty cache, got %d", result.TotalFrames)
	}
}
