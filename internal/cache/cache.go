// Package cache builds and serves the playback cache: a per-track,
// beat-sorted MIDI stream merged across tracks into a single dispatch
// order. A Cache is immutable once built; readers take a Snapshot, which
// carries its own cursors, so concurrent workers never contend on cursor
// state (see DESIGN.md's note on reference counting).
package cache

import (
	"sort"
	"sync"

	"github.com/iltempo/transportcore/internal/orchestra"
)

// cachedTrack is one source track's sorted event stream and the
// instrument it plays through.
type cachedTrack struct {
	instrument orchestra.Instrument
	events     []Event
}

// Cache is the published, read-only result of a build. Its track message
// slices are never mutated after Build returns, so any number of
// Snapshots may read them concurrently without locking.
type Cache struct {
	tracks      []cachedTrack
	instruments []orchestra.Instrument
	sampleRate  int
	numChannels int
}

// Empty reports whether the cache carries no events at all, the
// CacheEmpty condition time queries must treat as "return 0".
func (c *Cache) Empty() bool {
	return c == nil || len(c.tracks) == 0
}

// SampleRate is the sample rate queried from the first instrument
// referenced when the cache was built.
func (c *Cache) SampleRate() int {
	if c == nil {
		return 0
	}
	return c.sampleRate
}

// NumChannels is the output channel count queried from the first
// instrument referenced when the cache was built.
func (c *Cache) NumChannels() int {
	if c == nil {
		return 0
	}
	return c.numChannels
}

// Instruments returns every unique instrument referenced by the cache.
func (c *Cache) Instruments() []orchestra.Instrument {
	if c == nil {
		return nil
	}
	out := make([]orchestra.Instrument, len(c.instruments))
	copy(out, c.instruments)
	return out
}

// Snapshot is a reader's private view over a Cache: one cursor per cached
// track, advanced by NextMessage. Two Snapshots over the same Cache never
// share cursor state, so separate worker goroutines can each hold one and
// traverse independently.
type Snapshot struct {
	cache   *Cache
	cursors []int
	mu      sync.Mutex
}

// Snapshot creates a fresh reader positioned at the start of the cache.
func (c *Cache) Snapshot() *Snapshot {
	if c == nil {
		return &Snapshot{}
	}
	return &Snapshot{cache: c, cursors: make([]int, len(c.tracks))}
}

// NextMessage returns the globally earliest unconsumed event across all
// cached tracks, advancing that track's cursor. Ties are broken by track
// index (stable, matching cache build order). ok is false once every
// track is exhausted.
func (s *Snapshot) NextMessage() (ev Event, instrument orchestra.Instrument, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Snapshot) nextLocked() (ev Event, instrument orchestra.Instrument, ok bool) {
	if s.cache == nil {
		return Event{}, nil, false
	}
	bestTrack := -1
	for i, track := range s.cache.tracks {
		cursor := s.cursors[i]
		if cursor >= len(track.events) {
			continue
		}
		if bestTrack == -1 || track.events[cursor].Beat < s.cache.tracks[bestTrack].events[s.cursors[bestTrack]].Beat {
			bestTrack = i
		}
	}
	if bestTrack == -1 {
		return Event{}, nil, false
	}
	ev = s.cache.tracks[bestTrack].events[s.cursors[bestTrack]]
	instrument = s.cache.tracks[bestTrack].instrument
	s.cursors[bestTrack]++
	return ev, instrument, true
}

// PeekMessage returns the next event without advancing any cursor.
func (s *Snapshot) PeekMessage() (ev Event, instrument orchestra.Instrument, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return Event{}, nil, false
	}
	bestTrack := -1
	for i, track := range s.cache.tracks {
		cursor := s.cursors[i]
		if cursor >= len(track.events) {
			continue
		}
		if bestTrack == -1 || track.events[cursor].Beat < s.cache.tracks[bestTrack].events[s.cursors[bestTrack]].Beat {
			bestTrack = i
		}
	}
	if bestTrack == -1 {
		return Event{}, nil, false
	}
	track := s.cache.tracks[bestTrack]
	return track.events[s.cursors[bestTrack]], track.instrument, true
}

// SeekToStart resets every track's cursor to the beginning of its stream.
func (s *Snapshot) SeekToStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cursors {
		s.cursors[i] = 0
	}
}

// SeekToTime positions every track's cursor at the first event with
// beat >= target.
func (s *Snapshot) SeekToTime(beat float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return
	}
	for i, track := range s.cache.tracks {
		idx := sort.Search(len(track.events), func(j int) bool {
			return track.events[j].Beat >= beat
		})
		s.cursors[i] = idx
	}
}
