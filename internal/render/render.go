// Package render performs offline rendering of a playback cache to a WAV
// file, pulling PCM audio directly from each referenced instrument rather
// than pacing dispatch to wall-clock time the way internal/player does.
package render

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/midiwire"
	"github.com/iltempo/transportcore/internal/pbctx"
	"github.com/iltempo/transportcore/internal/timemap"
)

// ErrRenderBusy is returned by Render when a render is already in
// progress; the renderer accepts at most one job at a time. It does not
// check for, or stop, real-time playback against the same instruments.
var ErrRenderBusy = errors.New("render: a render is already in progress")

// framesPerChunk bounds how much audio is pulled from the instruments
// between progress callbacks.
const framesPerChunk = 4096

// peakWindowFrames is the downsampling window for the thumbnail peak
// array: one peak sample per this many source frames.
const peakWindowFrames = 512

// BitDepth is the PCM bit depth every render is encoded at.
const BitDepth = 16

// ProgressFunc is called after every chunk of audio is rendered.
type ProgressFunc func(framesRendered, totalFrames int)

// Renderer owns the "at most one render at a time" invariant. The zero
// value is ready to use.
type Renderer struct {
	mu   sync.Mutex
	busy bool
}

// New returns a ready-to-use Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Result carries the outcome of a completed render.
type Result struct {
	TotalFrames int
	Peaks       []float32
}

// Render renders c from firstBeat to lastBeat into w as a PCM WAV file,
// pulling audio from every instrument the cache references and summing
// their outputs. It returns ErrRenderBusy if another render is already
// running on this Renderer.
func (r *Renderer) Render(w io.WriteSeeker, c *cache.Cache, firstBeat, lastBeat float64, onProgress ProgressFunc) (Result, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return Result{}, ErrRenderBusy
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	if c.Empty() {
		return Result{}, nil
	}

	sampleRate := c.SampleRate()
	numChannels := c.NumChannels()
	if sampleRate <= 0 || numChannels <= 0 {
		return Result{}, fmt.Errorf("render: cache reports invalid sample rate/channel count (%d/%d)", sampleRate, numChannels)
	}

	ctx := timemap.FillPlaybackContext(c, firstBeat, lastBeat, firstBeat)
	totalFrames := int(ctx.TotalTimeMs * float64(sampleRate) / 1000.0)
	if totalFrames <= 0 {
		return Result{}, nil
	}

	if err := enqueueEntireStream(c, ctx, firstBeat, lastBeat); err != nil {
		return Result{}, err
	}

	instruments := c.Instruments()

	enc := wav.NewEncoder(w, sampleRate, BitDepth, numChannels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		SourceBitDepth: BitDepth,
	}

	var peaks []float32
	var windowPeak float32
	var windowCount int

	rendered := 0
	for rendered < totalFrames {
		chunk := framesPerChunk
		if remaining := totalFrames - rendered; chunk > remaining {
			chunk = remaining
		}

		mixed := make([]float32, chunk*numChannels)
		for _, inst := range instruments {
			pcm, err := inst.RenderAudio(chunk)
			if err != nil {
				return Result{}, fmt.Errorf("render: instrument %s: %w", inst.ID(), err)
			}
			for i := 0; i < len(pcm) && i < len(mixed); i++ {
				mixed[i] += pcm[i]
			}
		}

		buf.Data = make([]int, len(mixed))
		for i, sample := range mixed {
			if sample > 1 {
				sample = 1
			} else if sample < -1 {
				sample = -1
			}
			buf.Data[i] = int(sample * 32767)

			abs := sample
			if abs < 0 {
				abs = -abs
			}
			if abs > windowPeak {
				windowPeak = abs
			}
			windowCount++
			if windowCount >= peakWindowFrames*numChannels {
				peaks = append(peaks, windowPeak)
				windowPeak = 0
				windowCount = 0
			}
		}

		if err := enc.Write(buf); err != nil {
			return Result{}, fmt.Errorf("render: write: %w", err)
		}

		rendered += chunk
		if onProgress != nil {
			onProgress(rendered, totalFrames)
		}
	}

	if windowCount > 0 {
		peaks = append(peaks, windowPeak)
	}

	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("render: close: %w", err)
	}

	return Result{TotalFrames: totalFrames, Peaks: peaks}, nil
}

// enqueueEntireStream walks the whole cache once, computing each event's
// elapsed-ms timestamp exactly as internal/player would, and submits every
// message to its owning instrument up front. Rendering is offline, so
// there is no need to pace delivery to wall-clock time: an instrument's
// RenderAudio is expected to honor each message's AtMs against its own
// internal sample clock as it is pulled for audio.
func enqueueEntireStream(c *cache.Cache, ctx *pbctx.Context, firstBeat, lastBeat float64) error {
	primeCCSnapshot(c, ctx)

	snap := c.Snapshot()
	snap.SeekToTime(firstBeat)

	tempo := ctx.StartBeatTempoMsPerBeat
	ms := 0.0
	prev := firstBeat

	for {
		ev, inst, ok := snap.NextMessage()
		if !ok || ev.Beat > lastBeat {
			return nil
		}
		ms += tempo * (ev.Beat - prev)
		prev = ev.Beat

		switch ev.Kind {
		case cache.KindTempoMeta:
			tempo = ev.MsPerBeat
			continue
		case cache.KindNoteOn:
			inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOn(ev.Channel, ev.Key, ev.Value), AtMs: int64(ms)})
		case cache.KindNoteOff:
			inst.Enqueue(midiwire.Queued{Msg: midiwire.NoteOff(ev.Channel, ev.Key), AtMs: int64(ms)})
		case cache.KindControlChange:
			inst.Enqueue(midiwire.Queued{Msg: midiwire.ControlChange(ev.Channel, ev.CC, ev.Value), AtMs: int64(ms)})
		case cache.KindProgramChange:
			inst.Enqueue(midiwire.Queued{Msg: midiwire.ProgramChange(ev.Channel, ev.Value), AtMs: int64(ms)})
		}
	}
}

func primeCCSnapshot(c *cache.Cache, ctx *pbctx.Context) {
	for _, inst := range c.Instruments() {
		for ch := 0; ch < len(ctx.CCStates); ch++ {
			for cc := 0; cc < pbctx.NumControllers; cc++ {
				v := ctx.CCStates[ch][cc]
				if v == pbctx.Unset {
					continue
				}
				inst.Enqueue(midiwire.Queued{Msg: midiwire.ControlChange(uint8(ch+1), uint8(cc), uint8(v)), AtMs: 0})
			}
		}
	}
}
