// Package pbctx defines the playback context snapshot shared between a
// transport controller and the worker it hands playback off to: the
// controller can keep mutating its own copy while a worker streams from
// the one it was handed. Context is an immutable value once built;
// callers pass it by pointer and the garbage collector keeps an old
// snapshot alive for as long as some worker still holds it, so there is
// no manual refcounting to get wrong.
package pbctx

// Context is the immutable snapshot of starting time/tempo/CC state handed
// to a player worker or the offline renderer.
type Context struct {
	StartBeat  float64
	RewindBeat float64
	EndBeat    float64

	StartBeatTimeMs         float64
	TotalTimeMs             float64
	StartBeatTempoMsPerBeat float64

	SampleRate        int
	NumOutputChannels int

	LoopMode bool

	// CCStates[channel-1][cc] holds the latest value written to that
	// controller at or before StartBeat, or Unset (-1) if none was ever
	// written. cc ranges over 0..101 per the transport core's tracked
	// controller set.
	CCStates [][102]int32
}

// Unset is the sentinel for "this controller has never been written."
const Unset int32 = -1

// NumControllers is the number of CC numbers tracked per channel (0..101).
const NumControllers = 102

// NewCCStates allocates a CCStates table for numChannels channels with
// every slot unset.
func NewCCStates(numChannels int) [][102]int32 {
	states := make([][102]int32, numChannels)
	for ch := range states {
		for cc := range states[ch] {
			states[ch][cc] = Unset
		}
	}
	return states
}

// Clone returns a deep copy, used whenever a worker must mutate its own
// working copy (e.g. re-priming CC state at a loop point) without
// disturbing the context other readers hold.
func (c *Context) Clone() *Context {
	clone := *c
	clone.CCStates = make([][102]int32, len(c.CCStates))
	copy(clone.CCStates, c.CCStates)
	return &clone
}
