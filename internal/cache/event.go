package cache

// Kind discriminates the handful of message shapes the cache carries.
// Everything else a synthesizer might understand (pitch bend, aftertouch,
// sysex) is out of scope for this transport core.
type Kind int

const (
	KindNoteOn Kind = iota
	KindNoteOff
	KindControlChange
	KindProgramChange
	KindTempoMeta
)

// Event is one timestamped message inside a cached track's stream.
// Fields not relevant to Kind are zero.
type Event struct {
	Beat    float64
	Kind    Kind
	Channel uint8 // 1-16, already key/channel-mapped
	Key     uint8 // note number, for Kind{NoteOn,NoteOff}
	Value   uint8 // velocity for notes, CC value for KindControlChange, program for KindProgramChange
	CC      uint8 // controller number, for KindControlChange

	// MsPerBeat carries the new tempo for KindTempoMeta events.
	MsPerBeat float64
}
