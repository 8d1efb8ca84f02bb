// Package midiwire builds the gomidi messages the transport core sends to
// instruments. Channels are 1-indexed everywhere outside this package
// ("channel 1" is the musician's channel 1); midiwire converts to the
// 0-indexed wire representation gomidi expects right before building the
// message, matching gomidi's own "channel 0-15, where 0 = channel 1"
// convention.
package midiwire

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// NumControllers is the number of CC numbers the transport core tracks
// (0..101); 102-119 are ignored automation, 120-127 are reserved
// channel-mode messages and are never cached as automation.
const NumControllers = 102

// Unset is the sentinel used throughout the transport core for "this CC
// has not been written."
const Unset int32 = -1

// Queued pairs a wire-ready message with the wall-clock millisecond
// timestamp it should be dispatched at.
type Queued struct {
	Msg  midi.Message
	AtMs int64
}

func wireChannel(channel uint8) uint8 {
	if channel == 0 {
		return 0
	}
	return channel - 1
}

// NoteOn builds a Note On message. channel is 1-16.
func NoteOn(channel, key, velocity uint8) midi.Message {
	return midi.NoteOn(wireChannel(channel), key, velocity)
}

// NoteOff builds a Note Off message. channel is 1-16.
func NoteOff(channel, key uint8) midi.Message {
	return midi.NoteOff(wireChannel(channel), key)
}

// ControlChange builds a CC message. channel is 1-16, cc is 0-127.
func ControlChange(channel, cc, value uint8) midi.Message {
	return midi.ControlChange(wireChannel(channel), cc, value)
}

// ProgramChange builds a program change message. channel is 1-16.
func ProgramChange(channel, program uint8) midi.Message {
	return midi.ProgramChange(wireChannel(channel), program)
}

// Channel-mode CC numbers, per the MIDI spec's reserved 120-127 range.
const (
	ccAllSoundOff        = 120
	ccAllControllersOff  = 121
	ccAllNotesOff        = 123
)

// AllSoundOff builds the "all sound off" channel-mode message for channel
// (1-16).
func AllSoundOff(channel uint8) midi.Message {
	return ControlChange(channel, ccAllSoundOff, 0)
}

// AllControllersOff builds the "all controllers off" channel-mode message.
func AllControllersOff(channel uint8) midi.Message {
	return ControlChange(channel, ccAllControllersOff, 0)
}

// AllNotesOff builds the "all notes off" channel-mode message.
func AllNotesOff(channel uint8) midi.Message {
	return ControlChange(channel, ccAllNotesOff, 0)
}

// ValidateCC reports whether a CC number/value pair is within the
// automatable range this module caches (0-101) and the wire range (0-127
// for the value).
func ValidateCC(cc int, value int) error {
	if cc < 0 || cc >= NumControllers {
		return fmt.Errorf("midiwire: CC number must be 0-%d, got %d", NumControllers-1, cc)
	}
	if value < 0 || value > 127 {
		return fmt.Errorf("midiwire: CC value must be 0-127, got %d", value)
	}
	return nil
}
