package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
)

type fakeInstrument struct {
	mu       sync.Mutex
	id       string
	received []midiwire.Queued
}

func (f *fakeInstrument) ID() string   { return f.id }
func (f *fakeInstrument) Hash() string { return f.id }
func (f *fakeInstrument) MapKey(key, channel uint8) (uint8, uint8) { return key, channel }
func (f *fakeInstrument) Enqueue(q midiwire.Queued) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, q)
	return nil
}
func (f *fakeInstrument) SampleRate() int  { return 48000 }
func (f *fakeInstrument) NumChannels() int { return 1 }
func (f *fakeInstrument) RenderAudio(n int) ([]float32, error) { return make([]float32, n), nil }

func (f *fakeInstrument) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

type fakeTrack struct {
	events []cache.Event
}

func (t *fakeTrack) ID() string           { return "t" }
func (t *fakeTrack) InstrumentID() string { return "inst" }
func (t *fakeTrack) ExportMIDI(cache.ExportOptions) []cache.Event { return t.events }

type recordingListener struct {
	NopListener
	mu      sync.Mutex
	seeks   []float64
	plays   int
	stops   int
	loops   []bool
}

func (l *recordingListener) OnSeek(beat float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seeks = append(l.seeks, beat)
}
func (l *recordingListener) OnPlay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plays++
}
func (l *recordingListener) OnStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}
func (l *recordingListener) OnLoopModeChanged(enabled bool, start, end float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loops = append(l.loops, enabled)
}

func (l *recordingListener) stopCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

func TestStartPlaybackFragmentReportsNoActiveProjectWhenEmpty(t *testing.T) {
	orch := orchestra.New()
	tr := New(orch)
	defer tr.Close()

	if err := tr.StartPlayback(); err != ErrNoActiveProject {
		t.Errorf("expected ErrNoActiveProject, got %v", err)
	}
}

func TestStartStopPlaybackRoundTrip(t *testing.T) {
	orch := orchestra.New()
	inst := &fakeInstrument{id: "inst"}
	orch.Add(inst)

	tr := New(orch)
	defer tr.Close()

	lst := &recordingListener{}
	tr.AddListener(lst)

	tr.SetTracks([]cache.Track{&fakeTrack{events: []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1, Kind: cache.KindNoteOn, Channel: 1, Key: 62, Value: 100},
	}}}, 0, 100)

	if err := tr.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	if !tr.IsPlaying() {
		t.Error("expected IsPlaying() == true right after StartPlayback")
	}

	time.Sleep(20 * time.Millisecond)
	tr.StopPlayback()

	deadline := time.After(500 * time.Millisecond)
	for tr.IsPlaying() {
		select {
		case <-deadline:
			t.Fatal("transport did not report stopped in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if inst.count() == 0 {
		t.Error("expected at least one message dispatched to the instrument")
	}
}

func TestSeekToNotifiesListeners(t *testing.T) {
	orch := orchestra.New()
	orch.Add(&fakeInstrument{id: "inst"})
	tr := New(orch)
	defer tr.Close()

	lst := &recordingListener{}
	tr.AddListener(lst)

	if err := tr.SeekTo(4); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if tr.CurrentBeat() != 4 {
		t.Errorf("expected CurrentBeat() == 4, got %v", tr.CurrentBeat())
	}
	lst.mu.Lock()
	defer lst.mu.Unlock()
	if len(lst.seeks) != 1 || lst.seeks[0] != 4 {
		t.Errorf("expected one OnSeek(4) callback, got %v", lst.seeks)
	}
}

func TestSetPlaybackLoopNotifiesListeners(t *testing.T) {
	orch := orchestra.New()
	tr := New(orch)
	defer tr.Close()

	lst := &recordingListener{}
	tr.AddListener(lst)

	tr.SetPlaybackLoop(1, 5)
	tr.DisablePlaybackLoop()

	lst.mu.Lock()
	defer lst.mu.Unlock()
	if len(lst.loops) != 2 || !lst.loops[0] || lst.loops[1] {
		t.Errorf("expected [true, false] loop notifications, got %v", lst.loops)
	}
}

func TestStopSoundSendsChannelModeMessagesToEveryInstrument(t *testing.T) {
	orch := orchestra.New()
	a := &fakeInstrument{id: "a"}
	b := &fakeInstrument{id: "b"}
	orch.Add(a)
	orch.Add(b)

	tr := New(orch)
	defer tr.Close()

	tr.StopSound("")

	if a.count() == 0 || b.count() == 0 {
		t.Error("expected StopSound to dispatch to every registered instrument")
	}
}

func TestStopSoundSendsControllersOffBeforeNotesAndSoundOff(t *testing.T) {
	orch := orchestra.New()
	inst := &fakeInstrument{id: "a"}
	orch.Add(inst)

	tr := New(orch)
	defer tr.Close()

	tr.StopSound("")

	var sawControllersOff, sawNotesOff, sawSoundOff bool
	for _, q := range inst.received {
		var ch, cc, val uint8
		if q.Msg.GetControlChange(&ch, &cc, &val) {
			switch cc {
			case 121:
				sawControllersOff = true
			case 123:
				sawNotesOff = true
			case 120:
				sawSoundOff = true
			}
		}
	}
	if !sawControllersOff || !sawNotesOff || !sawSoundOff {
		t.Errorf("expected all-controllers-off, all-notes-off and all-sound-off, got %v", inst.received)
	}
}

func TestStopSoundScopedToTrackOnlySilencesLinkedInstrument(t *testing.T) {
	orch := orchestra.New()
	a := &fakeInstrument{id: "a"}
	b := &fakeInstrument{id: "b"}
	orch.Add(a)
	orch.Add(b)

	tr := New(orch)
	defer tr.Close()
	tr.SetTracks([]cache.Track{&fakeTrack{}}, 0, 100)

	tr.StopSound("t")

	if a.count() == 0 {
		t.Error("expected the linked instrument to be silenced")
	}
	if b.count() != 0 {
		t.Error("expected an unlinked instrument to be left alone by a track-scoped StopSound")
	}
}

func TestPreviewKeyPlaysThroughDefaultInstrument(t *testing.T) {
	orch := orchestra.New()
	inst := &fakeInstrument{id: "inst"}
	orch.Add(inst)

	tr := New(orch)
	defer tr.Close()

	tr.PreviewKey("", 1, 60, 100, 0.02)
	time.Sleep(100 * time.Millisecond)

	if inst.count() != 2 {
		t.Errorf("expected note-on then auto note-off, got %d messages", inst.count())
	}
}

func TestRemovingInstrumentWhilePlayingStopsPlayback(t *testing.T) {
	orch := orchestra.New()
	inst := &fakeInstrument{id: "inst"}
	orch.Add(inst)

	tr := New(orch)
	defer tr.Close()

	tr.SetTracks([]cache.Track{&fakeTrack{events: []cache.Event{
		{Beat: 0, Kind: cache.KindNoteOn, Channel: 1, Key: 60, Value: 100},
		{Beat: 1000, Kind: cache.KindNoteOn, Channel: 1, Key: 62, Value: 100},
	}}}, 0, 2000)

	if err := tr.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	if !tr.IsPlaying() {
		t.Fatal("expected IsPlaying() == true right after StartPlayback")
	}

	orch.Remove(inst)

	deadline := time.After(500 * time.Millisecond)
	for tr.IsPlaying() {
		select {
		case <-deadline:
			t.Fatal("expected removing an instrument to stop playback")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartRecordingFailsWithoutInstruments(t *testing.T) {
	orch := orchestra.New()
	tr := New(orch)
	defer tr.Close()

	lst := &recordingListener{}
	tr.AddListener(lst)

	if err := tr.StartRecording(); err != ErrNoMidiDevices {
		t.Errorf("expected ErrNoMidiDevices, got %v", err)
	}
	if tr.IsRecording() {
		t.Error("expected IsRecording() == false after a failed StartRecording")
	}
}
