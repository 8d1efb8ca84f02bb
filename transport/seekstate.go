package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// SeekState is the persisted playhead/loop state a project file carries
// between sessions: plain JSON, with omitempty on the loop fields.
type SeekState struct {
	Beat      float64 `json:"beat"`
	LoopMode  bool    `json:"loop_mode,omitempty"`
	LoopStart float64 `json:"loop_start,omitempty"`
	LoopEnd   float64 `json:"loop_end,omitempty"`
}

// Save writes s to w as indented JSON.
func (s SeekState) Save(w io.Writer) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("transport: marshal seek state: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// LoadSeekState reads a SeekState previously written by Save.
func LoadSeekState(r io.Reader) (SeekState, error) {
	var s SeekState
	data, err := io.ReadAll(r)
	if err != nil {
		return SeekState{}, fmt.Errorf("transport: read seek state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return SeekState{}, fmt.Errorf("transport: unmarshal seek state: %w", err)
	}
	return s, nil
}

// FormatDuration renders a millisecond duration as "M:SS.mmm", or
// "H:MM:SS.mmm" once it reaches an hour. A negative duration keeps its
// leading minus sign.
func FormatDuration(ms float64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	d := time.Duration(ms * float64(time.Millisecond))
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	millis := d / time.Millisecond

	if hours > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, hours, minutes, seconds, millis)
	}
	return fmt.Sprintf("%s%d:%02d.%03d", sign, minutes, seconds, millis)
}
