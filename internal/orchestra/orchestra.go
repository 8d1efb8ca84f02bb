// Package orchestra binds tracks to the instruments that play them. An
// Instrument is the narrow interface this module uses to reach the real
// synthesizer: a timestamped MIDI queue, a keyboard-mapping function, and
// enough identity to resolve a track's instrument-id against it.
package orchestra

import (
	"strings"
	"sync"

	"github.com/iltempo/transportcore/internal/midiwire"
)

// Instrument is the opaque audio processor this module dispatches
// timestamped MIDI to. Implementations live outside the transport core;
// this module never inspects what they do with a message beyond calling
// Enqueue.
type Instrument interface {
	// ID returns the instrument's identifier, matched as a substring
	// against a track's instrument-id during resolution.
	ID() string
	// Hash returns a content hash, used as the resolution fallback when
	// no instrument id matches.
	Hash() string
	// MapKey rewrites (key, channel) before any note event referencing
	// it is sent, e.g. to apply a capo or a custom scale mapping.
	MapKey(key, channel uint8) (uint8, uint8)
	// Enqueue submits a wall-clock-tagged MIDI message to the
	// instrument's input queue. Implementations are expected to accept
	// every submitted message; the transport core paces itself to wall
	// clock and never retries a failed enqueue.
	Enqueue(msg midiwire.Queued) error
	// SampleRate and NumChannels describe the instrument's audio output,
	// queried once to build a playback cache's sample rate/channel
	// count (taken from the first instrument referenced).
	SampleRate() int
	NumChannels() int
	// RenderAudio pulls numFrames of interleaved float32 PCM
	// (NumChannels() per frame) from the instrument's audio graph,
	// advancing it by that many frames. Used only by the offline
	// renderer; real-time playback never calls it.
	RenderAudio(numFrames int) ([]float32, error)
}

// Orchestra is the set of instruments available to the project, plus a
// distinguished default used whenever a track's instrument-id resolves to
// nothing.
type Orchestra struct {
	mu          sync.RWMutex
	instruments []Instrument
	defaultInst Instrument

	addedListeners   []func(Instrument)
	removedListeners []func(Instrument)
}

// New creates an empty Orchestra. Callers add the default instrument
// first via Add so it becomes the fallback resolution target.
func New() *Orchestra {
	return &Orchestra{}
}

// Add registers an instrument. The first instrument added becomes the
// default until SetDefault is called explicitly.
func (o *Orchestra) Add(inst Instrument) {
	o.mu.Lock()
	o.instruments = append(o.instruments, inst)
	if o.defaultInst == nil {
		o.defaultInst = inst
	}
	listeners := append([]func(Instrument){}, o.addedListeners...)
	o.mu.Unlock()

	for _, l := range listeners {
		l(inst)
	}
}

// SetDefault overrides the default instrument. inst must already have
// been added.
func (o *Orchestra) SetDefault(inst Instrument) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defaultInst = inst
}

// Remove drops an instrument from the orchestra. If it was the default,
// the default becomes the first remaining instrument (or nil if none
// remain).
func (o *Orchestra) Remove(inst Instrument) {
	o.mu.Lock()
	for i, existing := range o.instruments {
		if existing == inst {
			o.instruments = append(o.instruments[:i], o.instruments[i+1:]...)
			break
		}
	}
	if o.defaultInst == inst {
		if len(o.instruments) > 0 {
			o.defaultInst = o.instruments[0]
		} else {
			o.defaultInst = nil
		}
	}
	listeners := append([]func(Instrument){}, o.removedListeners...)
	o.mu.Unlock()

	for _, l := range listeners {
		l(inst)
	}
}

// Instruments returns a snapshot slice of every registered instrument.
func (o *Orchestra) Instruments() []Instrument {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Instrument, len(o.instruments))
	copy(out, o.instruments)
	return out
}

// DefaultInstrument returns the current default, or nil if the orchestra
// is empty.
func (o *Orchestra) DefaultInstrument() Instrument {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.defaultInst
}

// OnInstrumentAdded registers a callback fired (synchronously, on the
// calling goroutine's stack, outside the orchestra's lock) whenever Add
// is called.
func (o *Orchestra) OnInstrumentAdded(fn func(Instrument)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addedListeners = append(o.addedListeners, fn)
}

// OnInstrumentRemoved registers a callback fired whenever Remove is
// called.
func (o *Orchestra) OnInstrumentRemoved(fn func(Instrument)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removedListeners = append(o.removedListeners, fn)
}

// Resolve implements the track-to-instrument resolution of the transport
// core: match the track's instrument-id against each instrument's id by
// substring; if none match, try against each instrument's hash; if still
// none, fall back to the default instrument.
func (o *Orchestra) Resolve(instrumentID string) Instrument {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if instrumentID != "" {
		for _, inst := range o.instruments {
			if strings.Contains(inst.ID(), instrumentID) || strings.Contains(instrumentID, inst.ID()) {
				return inst
			}
		}
		for _, inst := range o.instruments {
			if strings.Contains(inst.Hash(), instrumentID) || strings.Contains(instrumentID, inst.Hash()) {
				return inst
			}
		}
	}
	return o.defaultInst
}
