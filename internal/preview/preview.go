// Package preview plays short, auto-releasing notes on behalf of a piano
// roll or virtual keyboard: PreviewNote schedules a Note On and its own
// Note Off, so a caller never has to hold a key-up handler just to stop
// the sound.
//
// Note On is not sent immediately: it is queued behind one tick of delay
// so that a rapid retrigger (e.g. the user dragging a note around) only
// ever needs to refresh a pending request instead of sending a storm of
// on/off pairs, since some downstream synths process out-of-order
// play/stop messages unreliably when they arrive back-to-back.
package preview

import (
	"math/rand"
	"sync"
	"time"

	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/orchestra"
)

// TickInterval is both the scheduler's countdown granularity and the
// delay a fresh preview request waits before its Note On is sent.
const TickInterval = 50 * time.Millisecond

// DefaultDuration is how long a previewed note sounds before it is
// auto-released, absent an explicit duration.
const DefaultDuration = 300 * time.Millisecond

// ChordDephaseMax is the largest extra delay (beyond TickInterval)
// applied to each note of a chord preview, so a block chord doesn't
// attack with an unnaturally mechanical unison onset.
const ChordDephaseMax = 15 * time.Millisecond

type previewKey struct {
	inst    orchestra.Instrument
	channel uint8
	key     uint8
}

// entry is a countdown pair: onTimeoutMs counts down to the Note On,
// offTimeoutMs (decremented only once onTimeoutMs has reached zero)
// counts down to the Note Off. Both non-positive means the preview has
// fully played out and is only still present so a later retrigger on
// the same key can be recognized as "already released."
type entry struct {
	onTimeoutMs  int64
	offTimeoutMs int64
	volume       uint8
	inst         orchestra.Instrument
}

// Scheduler tracks every previewed note (pending, sounding, or just
// released) and advances their countdowns on a fixed tick.
type Scheduler struct {
	mu      sync.Mutex
	entries map[previewKey]*entry
	now     func() time.Time
	rng     *rand.Rand

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler starts a Scheduler's background tick loop. Call Close to
// stop it.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		entries: map[previewKey]*entry{},
		now:     time.Now,
		rng:     rand.New(rand.NewSource(1)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	tickMs := int64(TickInterval / time.Millisecond)
	now := nowMs(s.now())

	type fire struct {
		k      previewKey
		noteOn bool
	}
	var fires []fire

	s.mu.Lock()
	for k, e := range s.entries {
		if e.onTimeoutMs > 0 {
			e.onTimeoutMs -= tickMs
			if e.onTimeoutMs <= 0 {
				fires = append(fires, fire{k: k, noteOn: true})
			}
		} else if e.offTimeoutMs > 0 {
			e.offTimeoutMs -= tickMs
			if e.offTimeoutMs <= 0 {
				fires = append(fires, fire{k: k, noteOn: false})
			}
		}
	}
	s.mu.Unlock()

	for _, f := range fires {
		mappedKey, mappedChannel := f.k.inst.MapKey(f.k.key, f.k.channel)
		if f.noteOn {
			s.mu.Lock()
			volume := uint8(0)
			if e, ok := s.entries[f.k]; ok {
				volume = e.volume
			}
			s.mu.Unlock()
			f.k.inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOn(mappedChannel, mappedKey, volume), AtMs: now})
		} else {
			f.k.inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOff(mappedChannel, mappedKey), AtMs: now})
		}
	}
}

func nowMs(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// PreviewNote schedules key on channel through inst to sound for
// duration, one tick from now. Retriggering a key whose Note On has
// already been sent stops the prior sound immediately before
// scheduling the new one; retriggering a key whose Note On is still
// pending only refreshes its volume and duration. A non-positive
// duration falls back to DefaultDuration.
func (s *Scheduler) PreviewNote(inst orchestra.Instrument, channel, key, velocity uint8, duration time.Duration) {
	if inst == nil {
		return
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	s.previewAt(inst, channel, key, velocity, 0, duration)
}

// PreviewChord previews every key in keys simultaneously, applying a small
// random onset delay per note so the chord doesn't sound artificially
// synchronized.
func (s *Scheduler) PreviewChord(inst orchestra.Instrument, channel uint8, keys []uint8, velocity uint8, duration time.Duration) {
	if inst == nil {
		return
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	for _, key := range keys {
		delay := time.Duration(s.rng.Int63n(int64(ChordDephaseMax) + 1))
		s.previewAt(inst, channel, key, velocity, delay, duration)
	}
}

func (s *Scheduler) previewAt(inst orchestra.Instrument, channel, key, velocity uint8, extraDelay, duration time.Duration) {
	k := previewKey{inst: inst, channel: channel, key: key}
	onTimeoutMs := int64(TickInterval/time.Millisecond) + int64(extraDelay/time.Millisecond)
	offTimeoutMs := int64(duration / time.Millisecond)

	s.mu.Lock()
	e, sounding := s.entries[k]
	if sounding && e.onTimeoutMs <= 0 && e.offTimeoutMs > 0 {
		// Note On already sent, Note Off not yet: stop the prior sound
		// before scheduling the retrigger.
		mappedKey, mappedChannel := inst.MapKey(key, channel)
		s.mu.Unlock()
		inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOff(mappedChannel, mappedKey), AtMs: nowMs(s.now())})
		s.mu.Lock()
	}
	if e == nil {
		e = &entry{}
		s.entries[k] = e
	}
	e.volume = velocity
	e.onTimeoutMs = onTimeoutMs
	e.offTimeoutMs = offTimeoutMs
	e.inst = inst
	s.mu.Unlock()
}

// CancelAll immediately releases every preview that has already sounded
// (Note On sent, Note Off not yet) and drops every pending one before it
// ever sounds.
func (s *Scheduler) CancelAll() {
	now := nowMs(s.now())

	s.mu.Lock()
	entries := s.entries
	s.entries = map[previewKey]*entry{}
	s.mu.Unlock()

	for k, e := range entries {
		if e.onTimeoutMs <= 0 && e.offTimeoutMs > 0 {
			mappedKey, mappedChannel := k.inst.MapKey(k.key, k.channel)
			k.inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOff(mappedChannel, mappedKey), AtMs: now})
		}
	}
}

// Close stops the scheduler's background loop and blocks until it exits.
// It does not release any currently-sounding preview; call CancelAll
// first if that is desired.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
