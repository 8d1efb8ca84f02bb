package cache

import (
	"sort"

	"github.com/iltempo/transportcore/internal/orchestra"
)

// ExportOptions carries everything a Track needs to render its pattern
// into a flat, key-mapped, beat-ordered Event stream for one cache build.
type ExportOptions struct {
	// KeyMap is the owning instrument's keyboard-mapping function,
	// applied by the track before any note event is returned so the
	// cache never needs to know about per-instrument remapping again.
	KeyMap func(key, channel uint8) (uint8, uint8)
	// GeneratedSequences names the generated sequences (arpeggios and
	// similar) that should be expanded into concrete events.
	GeneratedSequences []string
	// SoloActive is true when any clip anywhere in the project has the
	// solo attribute set; tracks with no soloed clip must export nothing.
	SoloActive bool
	// MetronomeEnabled requests metronome tick events interleaved into
	// the stream.
	MetronomeEnabled bool
	// FirstBeat/LastBeat bound the project range events are generated
	// for.
	FirstBeat, LastBeat float64
}

// Track is the read-only source of events this module observes. Note
// editing and the underlying sequence data structures are an excluded
// collaborator; Track is the narrow interface the cache builder needs
// from them.
type Track interface {
	ID() string
	InstrumentID() string
	// ExportMIDI renders every clip of the track's pattern (or a single
	// neutral clip if it has no pattern) into a beat-ordered, key-mapped
	// event list honoring opts.
	ExportMIDI(opts ExportOptions) []Event
}

// Builder builds a Cache from a project's tracks.
type Builder struct{}

// NewBuilder returns a ready-to-use Builder. It carries no state; a
// fresh one is cheap to construct per build.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build renders every track into a cached, beat-sorted event stream and
// assembles the merged Cache. Tracks resolving to the same instrument do
// not collapse into one cached track; each track's stream stays separate
// so NextMessage's "ties broken by list index" guarantee is meaningful
// per source track.
func (b *Builder) Build(tracks []Track, orch *orchestra.Orchestra, firstBeat, lastBeat float64, metronome, solo bool) *Cache {
	c := &Cache{}
	seenInstrument := map[orchestra.Instrument]bool{}

	for _, track := range tracks {
		inst := orch.Resolve(track.InstrumentID())
		if inst == nil {
			continue
		}

		opts := ExportOptions{
			KeyMap:           inst.MapKey,
			SoloActive:       solo,
			MetronomeEnabled: metronome,
			FirstBeat:        firstBeat,
			LastBeat:         lastBeat,
		}
		events := track.ExportMIDI(opts)
		if len(events) == 0 {
			continue
		}

		sorted := make([]Event, len(events))
		copy(sorted, events)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Beat < sorted[j].Beat })

		c.tracks = append(c.tracks, cachedTrack{instrument: inst, events: sorted})
		if !seenInstrument[inst] {
			seenInstrument[inst] = true
			c.instruments = append(c.instruments, inst)
		}
	}

	if len(c.instruments) > 0 {
		c.sampleRate = c.instruments[0].SampleRate()
		c.numChannels = c.instruments[0].NumChannels()
	}

	return c
}
