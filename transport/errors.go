package transport

import (
	"errors"

	"github.com/iltempo/transportcore/internal/player"
	"github.com/iltempo/transportcore/internal/render"
)

// ErrNoActiveProject is returned by any operation that needs a non-empty
// playback cache (no tracks, or no track resolves to an instrument).
var ErrNoActiveProject = errors.New("transport: no active project to play")

// ErrNoMidiDevices is returned when an operation needs at least one
// instrument registered with the orchestra and none are.
var ErrNoMidiDevices = errors.New("transport: no instruments registered")

// ErrAmbiguousMidiDevices reports that more than one MIDI device is
// available and none was selected. No function in this module returns it;
// cmd/transport-cli asks for a port interactively, or takes port 0 in
// batch mode.
var ErrAmbiguousMidiDevices = errors.New("transport: multiple MIDI devices available, none selected")

// ErrRenderBusy is re-exported from internal/render so callers never need
// to import it directly.
var ErrRenderBusy = render.ErrRenderBusy

// ErrInvalidSpeedMultiplier is re-exported from internal/player.
var ErrInvalidSpeedMultiplier = player.ErrInvalidSpeedMultiplier
