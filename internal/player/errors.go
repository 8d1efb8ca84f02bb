package player

import "errors"

// ErrInvalidSpeedMultiplier is returned by Worker.SetSpeedMultiplier when
// asked for a multiplier outside the open interval (MinSpeedMultiplier,
// MaxSpeedMultiplier).
var ErrInvalidSpeedMultiplier = errors.New("player: speed multiplier out of range")

// MinSpeedMultiplier and MaxSpeedMultiplier bound the speed range a worker
// accepts mid-playback. The bounds themselves are rejected, matching the
// open interval the transport core documents for this control.
const (
	MinSpeedMultiplier = 0.5
	MaxSpeedMultiplier = 5.0
)
