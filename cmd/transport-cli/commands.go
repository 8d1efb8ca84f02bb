package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iltempo/transportcore/transport"
)

// handler dispatches a line of REPL input to a Transport operation:
// one small method per verb, ProcessCommand as the single entry point.
type handler struct {
	tr *transport.Transport
}

func newHandler(tr *transport.Transport) *handler {
	return &handler{tr: tr}
}

func (h *handler) ProcessCommand(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "play":
		return h.tr.StartPlayback()
	case "stop":
		h.tr.StopPlayback()
		return nil
	case "toggle":
		return h.tr.ToggleStartStopPlayback()
	case "seek":
		beat, err := parseBeat(args, "seek <beat>")
		if err != nil {
			return err
		}
		return h.tr.SeekTo(beat)
	case "loop":
		if len(args) != 2 {
			return fmt.Errorf("usage: loop <start-beat> <end-beat>")
		}
		start, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid start beat %q: %w", args[0], err)
		}
		end, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid end beat %q: %w", args[1], err)
		}
		h.tr.SetPlaybackLoop(start, end)
		return nil
	case "noloop":
		h.tr.DisablePlaybackLoop()
		return nil
	case "preview":
		key, err := parseBeat(args, "preview <key>")
		if err != nil {
			return err
		}
		h.tr.PreviewKey("", 1, uint8(key), 100, 0.6)
		return nil
	case "speed":
		m, err := parseBeat(args, "speed <multiplier>")
		if err != nil {
			return err
		}
		return h.tr.SetSpeedMultiplier(m)
	case "render":
		if len(args) != 1 {
			return fmt.Errorf("usage: render <path.wav>")
		}
		return renderToFile(h.tr, args[0])
	case "panic":
		h.tr.StopSound("")
		return nil
	case "help":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", verb)
	}
}

func parseBeat(args []string, usage string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return v, nil
}

func printHelp() {
	fmt.Println(`Commands:
  play              start playback from the current position
  stop              stop playback
  toggle            start or stop, whichever applies
  seek <beat>       move the playhead
  loop <a> <b>      enable looping between beat a and beat b
  noloop            disable looping
  preview <key>     play a short preview note (MIDI key number)
  speed <mult>      change playback speed (0.5 < mult < 5.0)
  render <path>     render the project to a WAV file
  panic             stop all sound immediately
  help              show this message
  quit / exit       leave`)
}
