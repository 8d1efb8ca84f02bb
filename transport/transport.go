// Package transport is the public façade of the transport core: the
// single object a host application drives to play, render, preview and
// seek a project, without ever touching the cache, time map or worker
// pool directly.
package transport

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
	"github.com/iltempo/transportcore/internal/player"
	"github.com/iltempo/transportcore/internal/preview"
	"github.com/iltempo/transportcore/internal/render"
	"github.com/iltempo/transportcore/internal/timemap"
)

// Transport is the single entry point a host application drives. The
// zero value is not usable; construct one with New.
type Transport struct {
	orch *orchestra.Orchestra

	mu              sync.Mutex
	tracks          []cache.Track
	firstBeat       float64
	lastBeat        float64
	metronome       bool
	solo            bool
	cacheDirty      bool
	builtCache      *cache.Cache
	instrumentLinks map[string]orchestra.Instrument

	seek SeekState

	pool          *player.Pool
	activeWorker  *player.Worker
	workerDone    chan struct{}
	playing       atomic.Bool
	recording     atomic.Bool

	preview  *preview.Scheduler
	renderer *render.Renderer

	renderedFrames atomic.Int64
	totalFrames    atomic.Int64

	listenersMu sync.Mutex
	listeners   []Listener

	events     chan player.Event
	eventsStop chan struct{}
	eventsDone chan struct{}
}

// New creates a Transport bound to orch. The orchestra's instrument-added
// and instrument-removed callbacks are wired so any change stops playback
// and recording, invalidates the playback cache, and re-links every track
// to its (possibly now-different) instrument.
func New(orch *orchestra.Orchestra) *Transport {
	t := &Transport{
		orch:            orch,
		pool:            player.NewPool(player.DefaultMinPoolSize),
		preview:         preview.NewScheduler(),
		renderer:        render.New(),
		cacheDirty:      true,
		instrumentLinks: map[string]orchestra.Instrument{},
		events:          make(chan player.Event, 32),
		eventsStop:      make(chan struct{}),
		eventsDone:      make(chan struct{}),
	}
	orch.OnInstrumentAdded(func(orchestra.Instrument) { t.onOrchestraChanged() })
	orch.OnInstrumentRemoved(func(orchestra.Instrument) { t.onOrchestraChanged() })
	go t.dispatchEvents()
	return t
}

// Close stops the transport's background goroutines. It does not stop an
// in-progress playback session; call StopPlayback first.
func (t *Transport) Close() {
	t.preview.Close()
	close(t.eventsStop)
	<-t.eventsDone
}

// AddListener registers l to receive future state-change notifications.
func (t *Transport) AddListener(l Listener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Transport) forEachListener(fn func(Listener)) {
	t.listenersMu.Lock()
	ls := append([]Listener{}, t.listeners...)
	t.listenersMu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

// dispatchEvents is the transport's dedicated "UI thread": it drains
// worker events and turns them into listener callbacks, so a worker's hot
// dispatch loop never blocks on listener code.
func (t *Transport) dispatchEvents() {
	defer close(t.eventsDone)
	for {
		select {
		case <-t.eventsStop:
			return
		case ev := <-t.events:
			switch ev.Kind {
			case player.EventPlay:
				t.forEachListener(func(l Listener) { l.OnPlay() })
			case player.EventTempoChanged:
				t.forEachListener(func(l Listener) { l.OnCurrentTempoChanged(ev.TempoMsPerBeat) })
			}
		}
	}
}

// SetTracks replaces the project's track list and marks the cache dirty.
// Adding or removing a track always stops playback (unless recording is in
// progress); a track that survives the replacement only stops playback if
// its resolved instrument actually changed underneath it, mirroring the
// narrower "instrument id actually changed" comparison used when a single
// track's properties are edited mid-playback.
func (t *Transport) SetTracks(tracks []cache.Track, firstBeat, lastBeat float64) {
	t.mu.Lock()
	prevLinks := t.instrumentLinks
	newLinks := make(map[string]orchestra.Instrument, len(tracks))
	newIDs := make(map[string]bool, len(tracks))
	instrumentChanged := false
	for _, tr := range tracks {
		id := tr.ID()
		newIDs[id] = true
		resolved := t.orch.Resolve(tr.InstrumentID())
		newLinks[id] = resolved
		if prev, existed := prevLinks[id]; !existed || prev != resolved {
			instrumentChanged = true
		}
	}
	trackRemoved := false
	for id := range prevLinks {
		if !newIDs[id] {
			trackRemoved = true
			break
		}
	}
	t.tracks = tracks
	t.firstBeat = firstBeat
	t.lastBeat = lastBeat
	t.instrumentLinks = newLinks
	t.cacheDirty = true
	t.mu.Unlock()

	if instrumentChanged || trackRemoved {
		t.stopPlaybackIfNotRecording()
	}
}

// SetMetronomeEnabled toggles metronome tick generation in future cache
// builds. Changing it always stops any active playback and recording.
func (t *Transport) SetMetronomeEnabled(enabled bool) {
	t.mu.Lock()
	t.metronome = enabled
	t.cacheDirty = true
	t.mu.Unlock()
	t.stopPlaybackAndRecording()
}

// SetSoloActive toggles whether track-level solo filtering applies to
// future cache builds, stopping any active (non-recording) playback since
// the set of audible tracks is about to change.
func (t *Transport) SetSoloActive(active bool) {
	t.mu.Lock()
	t.solo = active
	t.cacheDirty = true
	t.mu.Unlock()
	t.stopPlaybackIfNotRecording()
}

// onOrchestraChanged reacts to an instrument being added or removed: stop
// playback and recording unconditionally, invalidate the cache, and
// re-resolve every track's instrument link against the new instrument set.
func (t *Transport) onOrchestraChanged() {
	t.stopPlaybackAndRecording()

	t.mu.Lock()
	newLinks := make(map[string]orchestra.Instrument, len(t.tracks))
	for _, tr := range t.tracks {
		newLinks[tr.ID()] = t.orch.Resolve(tr.InstrumentID())
	}
	t.instrumentLinks = newLinks
	t.cacheDirty = true
	t.mu.Unlock()
}

// stopPlaybackIfNotRecording stops active playback unless a recording
// session is in progress, matching the table's "if not recording" rows.
func (t *Transport) stopPlaybackIfNotRecording() {
	if !t.recording.Load() {
		t.StopPlayback()
	}
}

// stopPlaybackAndRecording stops both playback and any recording session
// unconditionally.
func (t *Transport) stopPlaybackAndRecording() {
	t.StopRecording()
	t.StopPlayback()
}

// resolveInstrumentLink looks up the instrument linked to trackID, falling
// back to the orchestra's default instrument when trackID is empty or
// unresolved.
func (t *Transport) resolveInstrumentLink(trackID string) orchestra.Instrument {
	t.mu.Lock()
	inst, ok := t.instrumentLinks[trackID]
	t.mu.Unlock()
	if trackID == "" || !ok {
		return t.orch.DefaultInstrument()
	}
	return inst
}

// currentCacheLocked rebuilds the cache if dirty and returns it. Caller must
// hold t.mu.
func (t *Transport) currentCacheLocked() *cache.Cache {
	if t.cacheDirty || t.builtCache == nil {
		t.builtCache = cache.NewBuilder().Build(t.tracks, t.orch, t.firstBeat, t.lastBeat, t.metronome, t.solo)
		t.cacheDirty = false
	}
	return t.builtCache
}

// IsPlaying reports whether a playback worker is currently active.
func (t *Transport) IsPlaying() bool { return t.playing.Load() }

// IsRecording reports whether the transport is in a recording session.
func (t *Transport) IsRecording() bool { return t.recording.Load() }

// CurrentBeat returns the beat passed to the last SeekTo call. Playback
// does not advance it, and a completed or stopped session leaves it as is.
func (t *Transport) CurrentBeat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seek.Beat
}

// SeekTo moves the playhead to beat without starting playback. If a
// playback session is active, it is restarted from the new position.
func (t *Transport) SeekTo(beat float64) error {
	t.mu.Lock()
	t.seek.Beat = beat
	wasPlaying := t.playing.Load()
	t.mu.Unlock()

	t.forEachListener(func(l Listener) { l.OnSeek(beat) })

	if wasPlaying {
		t.StopPlayback()
		return t.StartPlayback()
	}
	return nil
}

// SetPlaybackLoop enables looping between start and end (end exclusive of
// the loop-back point, inclusive of the last dispatched event at end). An
// end less than one beat after start is silently clamped to start+1.
func (t *Transport) SetPlaybackLoop(start, end float64) {
	if end < start+1 {
		end = start + 1
	}
	t.mu.Lock()
	t.seek.LoopMode = true
	t.seek.LoopStart = start
	t.seek.LoopEnd = end
	t.mu.Unlock()
	t.forEachListener(func(l Listener) { l.OnLoopModeChanged(true, start, end) })
}

// DisablePlaybackLoop turns looping off; an active session continues
// playing to the project's end instead of wrapping.
func (t *Transport) DisablePlaybackLoop() {
	t.mu.Lock()
	t.seek.LoopMode = false
	t.mu.Unlock()
	t.forEachListener(func(l Listener) { l.OnLoopModeChanged(false, 0, 0) })
}

// StartPlayback starts playing from the current playhead to the project's
// last beat (or loops within the configured loop region).
func (t *Transport) StartPlayback() error {
	t.mu.Lock()
	start := t.seek.Beat
	t.mu.Unlock()
	return t.StartPlaybackFragment(start, 0)
}

// StartPlaybackFragment starts playing from start to end. An end of 0 (or
// less than start) means "play to the project's last beat".
func (t *Transport) StartPlaybackFragment(start, end float64) error {
	t.mu.Lock()
	c := t.currentCacheLocked()
	if c.Empty() {
		t.mu.Unlock()
		return ErrNoActiveProject
	}
	if len(t.orch.Instruments()) == 0 {
		t.mu.Unlock()
		return ErrNoMidiDevices
	}

	firstBeat, lastBeat := t.firstBeat, t.lastBeat
	if end <= start {
		end = lastBeat
	}
	loopMode := t.seek.LoopMode
	rewindBeat := t.seek.LoopStart
	endBeat := end
	if loopMode {
		endBeat = t.seek.LoopEnd
	}
	t.mu.Unlock()

	ctx := timemap.FillPlaybackContext(c, firstBeat, lastBeat, start)
	ctx.StartBeat = start
	ctx.EndBeat = endBeat
	ctx.RewindBeat = rewindBeat
	ctx.LoopMode = loopMode

	t.stopActiveWorkerAndWait()

	w := t.pool.Acquire()
	done := make(chan struct{})

	t.mu.Lock()
	t.activeWorker = w
	t.workerDone = done
	t.mu.Unlock()

	t.playing.Store(true)
	log.Printf("[TRANSPORT] starting playback at beat %.3f (loop=%v)", start, loopMode)

	go func() {
		w.Run(player.RunConfig{
			Cache:     c,
			FirstBeat: firstBeat,
			LastBeat:  lastBeat,
			Ctx:       ctx,
			Events:    t.events,
		})

		t.mu.Lock()
		if t.activeWorker == w {
			t.activeWorker = nil
			t.workerDone = nil
		}
		t.mu.Unlock()

		t.pool.Release(w)
		t.playing.Store(false)
		close(done)
		t.forEachListener(func(l Listener) { l.OnStop() })
	}()

	t.forEachListener(func(l Listener) { l.OnTotalTimeChanged(ctx.TotalTimeMs) })
	return nil
}

// stopActiveWorkerAndWait signals any currently-active worker to exit and
// blocks until its Run loop (and the release goroutine around it) has
// finished, so callers never race a stop against a subsequent start.
func (t *Transport) stopActiveWorkerAndWait() {
	t.mu.Lock()
	w := t.activeWorker
	done := t.workerDone
	t.mu.Unlock()
	if w == nil {
		return
	}
	w.SignalExit()
	if done != nil {
		<-done
	}
}

// StopPlayback halts the active playback session, if any. It returns once
// the stop has been signaled; the worker itself reports is_playing() ==
// false within player.MaxStopCheckInterval.
func (t *Transport) StopPlayback() {
	t.mu.Lock()
	w := t.activeWorker
	t.mu.Unlock()
	if w == nil {
		return
	}
	log.Printf("[TRANSPORT] stopping playback")
	w.SignalExit()
}

// ToggleStartStopPlayback starts playback if stopped, or stops it if
// playing.
func (t *Transport) ToggleStartStopPlayback() error {
	if t.IsPlaying() {
		t.StopPlayback()
		return nil
	}
	return t.StartPlayback()
}

// SetSpeedMultiplier scales the active playback session's beats-to-wall-
// time mapping. Returns ErrInvalidSpeedMultiplier if m is out of range, or
// nil (a no-op) if nothing is currently playing.
func (t *Transport) SetSpeedMultiplier(m float64) error {
	t.mu.Lock()
	w := t.activeWorker
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.SetSpeedMultiplier(m)
}

// StartRecording marks the transport as recording. Actual MIDI input
// capture is a host responsibility outside this module's scope; this
// tracks the on/off state and notifies listeners.
func (t *Transport) StartRecording() error {
	if len(t.orch.Instruments()) == 0 {
		err := ErrNoMidiDevices
		t.forEachListener(func(l Listener) { l.OnRecordFailed(err) })
		return err
	}
	t.recording.Store(true)
	t.forEachListener(func(l Listener) { l.OnRecord() })
	return nil
}

// StopRecording clears the recording flag.
func (t *Transport) StopRecording() {
	t.recording.Store(false)
}

// DefaultMsPerBeat is the fixed tempo PreviewKey/PreviewChord use to convert
// a requested length in beats to a wall-clock duration. Using a fixed value
// rather than the project's actual tempo at the current beat is a
// deliberate simplification, documented in DESIGN.md.
const DefaultMsPerBeat = 500.0

// PreviewKey plays a single short preview note through the instrument
// linked to trackID (or the orchestra's default instrument if trackID is
// empty or unresolved). lengthInBeats is converted to a duration via
// DefaultMsPerBeat.
func (t *Transport) PreviewKey(trackID string, channel, key, velocity uint8, lengthInBeats float64) {
	inst := t.resolveInstrumentLink(trackID)
	if inst == nil {
		return
	}
	duration := time.Duration(lengthInBeats * DefaultMsPerBeat * float64(time.Millisecond))
	t.preview.PreviewNote(inst, channel, key, velocity, duration)
}

// PreviewChord plays several keys as a single, slightly de-phased preview
// chord through the instrument linked to trackID (or the orchestra's
// default instrument if trackID is empty or unresolved). lengthInBeats is
// converted to a duration via DefaultMsPerBeat.
func (t *Transport) PreviewChord(trackID string, channel uint8, keys []uint8, velocity uint8, lengthInBeats float64) {
	inst := t.resolveInstrumentLink(trackID)
	if inst == nil {
		return
	}
	duration := time.Duration(lengthInBeats * DefaultMsPerBeat * float64(time.Millisecond))
	t.preview.PreviewChord(inst, channel, keys, velocity, duration)
}

// StopSound silences sound immediately: cancels pending previews, then
// sends an all-controllers-off/all-notes-off/all-sound-off triple on every
// channel. If trackID is empty or unresolved, every registered instrument
// is silenced; otherwise only the instrument linked to trackID is.
func (t *Transport) StopSound(trackID string) {
	t.preview.CancelAll()
	now := time.Now().UnixNano() / int64(time.Millisecond)

	var insts []orchestra.Instrument
	if trackID == "" {
		insts = t.orch.Instruments()
	} else if inst, ok := t.instrumentLinksSnapshot()[trackID]; ok {
		insts = []orchestra.Instrument{inst}
	} else {
		insts = t.orch.Instruments()
	}

	for _, inst := range insts {
		for ch := uint8(1); ch <= 16; ch++ {
			inst.Enqueue(midiwire.Queued{Msg: midiwire.AllControllersOff(ch), AtMs: now})
			inst.Enqueue(midiwire.Queued{Msg: midiwire.AllNotesOff(ch), AtMs: now})
			inst.Enqueue(midiwire.Queued{Msg: midiwire.AllSoundOff(ch), AtMs: now})
		}
	}
}

func (t *Transport) instrumentLinksSnapshot() map[string]orchestra.Instrument {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]orchestra.Instrument, len(t.instrumentLinks))
	for k, v := range t.instrumentLinks {
		out[k] = v
	}
	return out
}

// StartRender renders the current project to w as a WAV file, blocking
// until complete. Run it from its own goroutine to poll RenderProgress
// concurrently; returns ErrRenderBusy if a render is already running on
// this transport.
func (t *Transport) StartRender(w io.WriteSeeker) (render.Result, error) {
	t.mu.Lock()
	c := t.currentCacheLocked()
	firstBeat, lastBeat := t.firstBeat, t.lastBeat
	t.mu.Unlock()

	if c.Empty() {
		return render.Result{}, ErrNoActiveProject
	}

	t.renderedFrames.Store(0)
	t.totalFrames.Store(0)

	return t.renderer.Render(w, c, firstBeat, lastBeat, func(rendered, total int) {
		t.renderedFrames.Store(int64(rendered))
		t.totalFrames.Store(int64(total))
	})
}

// RenderProgress returns the fraction (0..1) of the in-progress (or most
// recently completed) render's frames that have been rendered so far.
func (t *Transport) RenderProgress() float64 {
	total := t.totalFrames.Load()
	if total == 0 {
		return 0
	}
	return float64(t.renderedFrames.Load()) / float64(total)
}
