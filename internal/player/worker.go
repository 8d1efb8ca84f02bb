package player

import (
	"sync"
	"time"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
	"github.com/iltempo/transportcore/internal/pbctx"
	"github.com/iltempo/transportcore/internal/timemap"
)

// MaxStopCheckInterval bounds how long a worker can sleep before it
// re-checks for a stop signal, the minStopCheckTimeMs guarantee the
// transport façade promises callers of StopPlayback.
const MaxStopCheckInterval = 200 * time.Millisecond

// Worker dispatches one playback session's events to their owning
// instruments in wall-clock order. A Worker is reused across sessions via
// Pool; reset() clears per-session state between acquisitions.
//
// Grounded on ako-backing-tracks' ticker-driven playbackLoop (peek next
// event, sleep until due, dispatch, repeat) and harperreed-resonate-go's
// pattern of a single timer re-armed each iteration rather than a
// free-running ticker, generalized to honor a speed multiplier and loop
// region.
type Worker struct {
	id   int
	pool *Pool

	stopOnce sync.Once
	stopCh   chan struct{}
	wakeCh   chan struct{}

	speedMu sync.Mutex
	speed   float64
}

func newWorker(id int, pool *Pool) *Worker {
	w := &Worker{id: id, pool: pool}
	w.reset()
	return w
}

// reset clears cancellation and speed state for a fresh acquisition. Must
// only be called while the worker is not running.
func (w *Worker) reset() {
	w.stopOnce = sync.Once{}
	w.stopCh = make(chan struct{})
	w.wakeCh = make(chan struct{}, 1)
	w.speedMu.Lock()
	w.speed = 1.0
	w.speedMu.Unlock()
}

// SignalExit requests that the worker stop at its next stop-check point.
// Safe to call multiple times and from any goroutine.
func (w *Worker) SignalExit() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) exiting() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// SetSpeedMultiplier changes the beats-to-wall-time scaling applied to
// events not yet dispatched. Takes effect at the worker's next wake,
// interrupting an in-progress sleep early so the change is not delayed by
// up to MaxStopCheckInterval.
func (w *Worker) SetSpeedMultiplier(m float64) error {
	if m <= MinSpeedMultiplier || m >= MaxSpeedMultiplier {
		return ErrInvalidSpeedMultiplier
	}
	w.speedMu.Lock()
	w.speed = m
	w.speedMu.Unlock()
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (w *Worker) currentSpeed() float64 {
	w.speedMu.Lock()
	defer w.speedMu.Unlock()
	return w.speed
}

// timeBase maps a project's accumulated elapsed-ms (the same scale
// timemap.FindTimeAt returns) onto wall-clock ms, rebased at every start,
// loop wrap and speed change so playback never has to unwind past
// rebasings to compute a future event's wall time.
type timeBase struct {
	wallAnchorMs    float64
	virtualAnchorMs float64
	speed           float64
}

func (t *timeBase) wallFor(virtualMs float64) float64 {
	return t.wallAnchorMs + (virtualMs-t.virtualAnchorMs)/t.speed
}

func (t *timeBase) rebase(nowWallMs, nowVirtualMs, speed float64) {
	t.wallAnchorMs = nowWallMs
	t.virtualAnchorMs = nowVirtualMs
	t.speed = speed
}

// RunConfig bundles everything a Worker needs to play one session.
type RunConfig struct {
	Cache        *cache.Cache
	FirstBeat    float64
	LastBeat     float64
	Ctx          *pbctx.Context
	Events       chan<- Event
	MaxStopCheck time.Duration
	Now          func() time.Time
}

func nowMs(now func() time.Time) float64 {
	return float64(now().UnixNano()) / float64(time.Millisecond)
}

// Run plays rc.Cache from rc.Ctx.StartBeat to rc.Ctx.EndBeat, looping back
// to rc.Ctx.RewindBeat if rc.Ctx.LoopMode is set, until the region is
// exhausted (non-looping) or SignalExit is observed. Run blocks the
// calling goroutine and returns when playback stops for any reason; the
// caller owns releasing the worker back to its Pool.
func (w *Worker) Run(rc RunConfig) {
	now := rc.Now
	if now == nil {
		now = time.Now
	}
	maxStopCheck := rc.MaxStopCheck
	if maxStopCheck <= 0 {
		maxStopCheck = MaxStopCheckInterval
	}

	snap := rc.Cache.Snapshot()
	ctx := rc.Ctx

	// Step 1: position cursors at start_beat.
	snap.SeekToTime(ctx.StartBeat)

	// Step 2: prime CC snapshot state on every instrument the cache
	// references.
	primeCCSnapshot(rc.Cache, ctx, now)

	// Step 3: record the wall/virtual anchor and starting tempo.
	tb := &timeBase{}
	tb.rebase(nowMs(now), ctx.StartBeatTimeMs, w.currentSpeed())
	localMs := ctx.StartBeatTimeMs
	localTempo := ctx.StartBeatTempoMsPerBeat
	localPrevBeat := ctx.StartBeat

	postEvent(rc.Events, Event{Kind: EventPlay})

	for {
		if w.exiting() {
			return
		}

		ev, inst, ok := snap.PeekMessage()
		if !ok || ev.Beat > ctx.EndBeat {
			if !ctx.LoopMode {
				return
			}
			// Loop wrap: reposition at rewind_beat and re-derive the
			// elapsed-ms/tempo/CC state as of that point, then rebase
			// wall time at "now" so the next event's wait is computed
			// from the actual current clock rather than compounding
			// drift across iterations.
			snap.SeekToTime(ctx.RewindBeat)
			rewound := timemap.FillPlaybackContext(rc.Cache, rc.FirstBeat, rc.LastBeat, ctx.RewindBeat)
			ctx = ctx.Clone()
			ctx.CCStates = rewound.CCStates
			localMs = rewound.StartBeatTimeMs
			localTempo = rewound.StartBeatTempoMsPerBeat
			localPrevBeat = ctx.RewindBeat
			tb.rebase(nowMs(now), localMs, w.currentSpeed())
			primeCCSnapshot(rc.Cache, ctx, now)
			continue
		}

		localMs += localTempo * (ev.Beat - localPrevBeat)
		localPrevBeat = ev.Beat
		wallMs := tb.wallFor(localMs)

		if !w.waitUntil(&wallMs, maxStopCheck, now, tb, &localMs) {
			return
		}

		snap.NextMessage()
		dispatch(inst, ev, int64(wallMs))

		if ev.Kind == cache.KindTempoMeta {
			localTempo = ev.MsPerBeat
			postEvent(rc.Events, Event{Kind: EventTempoChanged, TempoMsPerBeat: ev.MsPerBeat})
		}
	}
}

// waitUntil blocks until wallMs or a stop signal, re-checking for stop at
// most every maxStopCheck and rebasing tb (and recomputing wallMs in
// place, via the out-params) whenever a speed change wakes it early.
// Returns false if the wait ended because of a stop signal.
func (w *Worker) waitUntil(wallMs *float64, maxStopCheck time.Duration, now func() time.Time, tb *timeBase, localMs *float64) bool {
	for {
		remaining := *wallMs - nowMs(now)
		if remaining <= 0 {
			return !w.exiting()
		}
		wait := time.Duration(remaining) * time.Millisecond
		if wait > maxStopCheck {
			wait = maxStopCheck
		}
		timer := time.NewTimer(wait)
		select {
		case <-w.stopCh:
			timer.Stop()
			return false
		case <-w.wakeCh:
			timer.Stop()
			tb.rebase(nowMs(now), *localMs, w.currentSpeed())
			*wallMs = tb.wallFor(*localMs)
		case <-timer.C:
			// periodic stop-check point; loop re-evaluates remaining.
		}
	}
}

// primeCCSnapshot re-sends every non-unset CC value in ctx.CCStates to the
// instrument that owns each channel, matching the "resend CC snapshot at
// loop points" requirement. Since a cache can reference more than one
// instrument without recording which one owns which channel, every
// referenced instrument receives the full snapshot (see DESIGN.md).
func primeCCSnapshot(c *cache.Cache, ctx *pbctx.Context, now func() time.Time) {
	atMs := int64(nowMs(now))
	for _, inst := range c.Instruments() {
		for ch := 0; ch < len(ctx.CCStates); ch++ {
			for cc := 0; cc < pbctx.NumControllers; cc++ {
				v := ctx.CCStates[ch][cc]
				if v == pbctx.Unset {
					continue
				}
				msg := midiwire.ControlChange(uint8(ch+1), uint8(cc), uint8(v))
				inst.Enqueue(midiwire.Queued{Msg: msg, AtMs: atMs})
			}
		}
	}
}

func dispatch(inst orchestra.Instrument, ev cache.Event, atMs int64) {
	if inst == nil {
		return
	}
	var q midiwire.Queued
	switch ev.Kind {
	case cache.KindNoteOn:
		q = midiwire.Queued{Msg: midiwire.NoteOn(ev.Channel, ev.Key, ev.Value), AtMs: atMs}
	case cache.KindNoteOff:
		q = midiwire.Queued{Msg: midiwire.NoteOff(ev.Channel, ev.Key), AtMs: atMs}
	case cache.KindControlChange:
		q = midiwire.Queued{Msg: midiwire.ControlChange(ev.Channel, ev.CC, ev.Value), AtMs: atMs}
	case cache.KindProgramChange:
		q = midiwire.Queued{Msg: midiwire.ProgramChange(ev.Channel, ev.Value), AtMs: atMs}
	default:
		return
	}
	inst.Enqueue(q)
}

func postEvent(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}
