package main

import "github.com/iltempo/transportcore/internal/cache"

// DefaultPatternBeats is the length, in beats, of the demo click pattern a
// fresh CLI session plays.
const DefaultPatternBeats = 16

// demoTrack is a fixed one-note-per-beat pattern, the CLI's stand-in for
// a real project's track/clip/pattern model (editing those is out of
// this module's scope).
type demoTrack struct {
	instrumentID string
	key          uint8
	lengthBeats  int
}

func newDemoTrack(instrumentID string) *demoTrack {
	return &demoTrack{instrumentID: instrumentID, key: 60, lengthBeats: DefaultPatternBeats}
}

func (d *demoTrack) ID() string           { return "demo" }
func (d *demoTrack) InstrumentID() string { return d.instrumentID }

func (d *demoTrack) ExportMIDI(opts cache.ExportOptions) []cache.Event {
	if opts.SoloActive {
		return nil
	}
	var events []cache.Event
	for beat := 0; beat < d.lengthBeats; beat++ {
		key, channel := opts.KeyMap(d.key, 1)
		events = append(events,
			cache.Event{Beat: float64(beat), Kind: cache.KindNoteOn, Channel: channel, Key: key, Value: 100},
			cache.Event{Beat: float64(beat) + 0.5, Kind: cache.KindNoteOff, Channel: channel, Key: key},
		)
	}
	return events
}
