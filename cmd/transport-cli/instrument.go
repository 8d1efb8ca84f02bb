package main

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-registers the RtMIDI driver

	"github.com/iltempo/transportcore/internal/midiwire"
)

// listPorts returns the available MIDI output port names.
func listPorts() []string {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names
}

// liveInstrument adapts a real MIDI output port to orchestra.Instrument.
// Its Enqueue forwards a message immediately: by the time the player
// worker or preview scheduler calls Enqueue, it has already paced itself
// to the message's correct wall-clock moment, so no further scheduling
// happens here. RenderAudio is not supported by a hardware MIDI sink.
type liveInstrument struct {
	id     string
	port   drivers.Out
	send   func(msg midi.Message) error
	sample int
	chans  int
}

func openLiveInstrument(id string, portIndex int) (*liveInstrument, error) {
	port, err := midi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("transport-cli: open MIDI port %d: %w", portIndex, err)
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("transport-cli: create sender for port %d: %w", portIndex, err)
	}
	return &liveInstrument{id: id, port: port, send: send, sample: 48000, chans: 2}, nil
}

func (l *liveInstrument) ID() string   { return l.id }
func (l *liveInstrument) Hash() string { return l.id }
func (l *liveInstrument) MapKey(key, channel uint8) (uint8, uint8) { return key, channel }

func (l *liveInstrument) Enqueue(q midiwire.Queued) error {
	return l.send(q.Msg)
}

func (l *liveInstrument) SampleRate() int  { return l.sample }
func (l *liveInstrument) NumChannels() int { return l.chans }

func (l *liveInstrument) RenderAudio(numFrames int) ([]float32, error) {
	return nil, fmt.Errorf("transport-cli: %s is a hardware MIDI output, offline rendering is not supported", l.id)
}

func (l *liveInstrument) Close() error {
	return l.port.Close()
}
