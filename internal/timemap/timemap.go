// Package timemap converts between beat positions and wall-clock
// milliseconds, honoring the tempo meta events embedded in a playback
// cache, and fills the PlaybackContext a player worker or the renderer
// starts from.
package timemap

import (
	"math"

	"github.com/iltempo/transportcore/internal/cache"
	"github.com/iltempo/transportcore/internal/pbctx"
)

// DefaultMsPerBeat is the implicit tempo (120 BPM, 500ms/beat) in force
// until the first tempo meta event in the stream.
const DefaultMsPerBeat = 500.0

// initialTempo scans a fresh snapshot for the first tempo meta event and
// returns its ms-per-beat, or DefaultMsPerBeat if the cache carries none.
// The scan is non-destructive to the caller's own snapshot because it is
// always given a throwaway one.
func initialTempo(snap *cache.Snapshot) float64 {
	for {
		ev, _, ok := snap.NextMessage()
		if !ok {
			return DefaultMsPerBeat
		}
		if ev.Kind == cache.KindTempoMeta {
			return ev.MsPerBeat
		}
	}
}

// FindTimeAt computes elapsed milliseconds from firstBeat to targetBeat,
// accumulating tempo changes along the way. Returns 0 for an empty cache
// (the CacheEmpty condition).
func FindTimeAt(c *cache.Cache, firstBeat, targetBeat float64) float64 {
	if c.Empty() {
		return 0
	}

	tempo := initialTempo(c.Snapshot())

	walk := c.Snapshot()
	ms := 0.0
	prev := firstBeat
	for {
		ev, _, ok := walk.PeekMessage()
		if !ok || ev.Beat > targetBeat {
			break
		}
		walk.NextMessage()
		ms += tempo * (ev.Beat - prev)
		prev = ev.Beat
		if ev.Kind == cache.KindTempoMeta {
			tempo = ev.MsPerBeat
		}
	}
	ms += tempo * (targetBeat - prev)
	return ms
}

// FillPlaybackContext runs the same walk as FindTimeAt but also records
// the tempo active at targetBeat, captures the latest CC value for every
// controller number <= 101 written at or before targetBeat, and continues
// past targetBeat to compute the project's total time. Sample rate and
// channel count are copied from the cache.
func FillPlaybackContext(c *cache.Cache, firstBeat, lastBeat, targetBeat float64) *pbctx.Context {
	numChannels := c.NumChannels()
	if numChannels == 0 {
		numChannels = 1
	}
	ctx := &pbctx.Context{
		SampleRate:        c.SampleRate(),
		NumOutputChannels: numChannels,
		CCStates:          pbctx.NewCCStates(numChannels),
	}

	if c.Empty() {
		return ctx
	}

	tempo := initialTempo(c.Snapshot())

	walk := c.Snapshot()
	ms := 0.0
	prev := firstBeat

	// Phase 1: walk up to targetBeat, capturing CC state and tempo as of
	// that point.
	for {
		ev, _, ok := walk.PeekMessage()
		if !ok || ev.Beat > targetBeat {
			break
		}
		walk.NextMessage()
		ms += tempo * (ev.Beat - prev)
		prev = ev.Beat

		switch ev.Kind {
		case cache.KindTempoMeta:
			tempo = ev.MsPerBeat
		case cache.KindControlChange:
			ch := int(ev.Channel) - 1
			if int(ev.CC) < pbctx.NumControllers && ch >= 0 && ch < numChannels {
				ctx.CCStates[ch][ev.CC] = int32(ev.Value)
			}
		}
	}
	ms += tempo * (targetBeat - prev)
	ctx.StartBeatTimeMs = ms
	ctx.StartBeatTempoMsPerBeat = tempo
	prev = targetBeat

	// Phase 2: continue past targetBeat to lastBeat to compute total
	// project time.
	for {
		ev, _, ok := walk.PeekMessage()
		if !ok || ev.Beat > lastBeat {
			break
		}
		walk.NextMessage()
		ms += tempo * (ev.Beat - prev)
		prev = ev.Beat
		if ev.Kind == cache.KindTempoMeta {
			tempo = ev.MsPerBeat
		}
	}
	ms += tempo * (lastBeat - prev)
	ctx.TotalTimeMs = ms
	return ctx
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// MaxSecPerBeat is the slowest tempo the 0..1 controller-value mapping can
// express (ms-per-beat at controller value 0 is MaxSecPerBeat*1000). 2.0
// (30 BPM) is the chosen ceiling; see DESIGN.md for the reasoning.
const MaxSecPerBeat = 2.0

// epsilon keeps the log2 mapping away from its 0/1 singularities.
const epsilon = 1e-5

// TempoFromControllerValue converts a 0..1 controller value to a tempo in
// ms-per-beat via a log2 curve: 1.0 maps to the fastest tempo, 0.0 to
// MaxSecPerBeat.
func TempoFromControllerValue(cv float64) float64 {
	cv = clamp(cv, epsilon, 1-epsilon)
	return (1 - math.Log2(cv)) * MaxSecPerBeat * 1000
}

// ControllerValueFromTempo converts a tempo in ms-per-beat back to a 0..1
// controller value, the inverse of TempoFromControllerValue.
func ControllerValueFromTempo(msPerBeat float64) float64 {
	maxMs := MaxSecPerBeat * 1000
	cv := math.Pow(2, 1-msPerBeat/maxMs)
	return clamp(cv, 0, 1)
}
