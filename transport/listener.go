package transport

// Listener receives notifications of every state transition a Transport
// makes. OnPlay and OnCurrentTempoChanged are called from the Transport's
// own dispatch goroutine; OnStop is called from the goroutine that ran the
// finished playback session; the other methods are called synchronously on
// the goroutine that invoked the Transport method. Calls arriving on
// different goroutines are not serialized and may overlap. No method is
// called while the Transport's lock is held.
type Listener interface {
	OnPlay()
	OnStop()
	OnRecord()
	OnRecordFailed(err error)
	OnSeek(beat float64)
	OnCurrentTempoChanged(msPerBeat float64)
	OnTotalTimeChanged(totalMs float64)
	OnLoopModeChanged(enabled bool, start, end float64)
}

// NopListener implements Listener with no-op methods, so callers can
// embed it and override only what they need.
type NopListener struct{}

func (NopListener) OnPlay()                                {}
func (NopListener) OnStop()                                {}
func (NopListener) OnRecord()                               {}
func (NopListener) OnRecordFailed(err error)                {}
func (NopListener) OnSeek(beat float64)                     {}
func (NopListener) OnCurrentTempoChanged(msPerBeat float64) {}
func (NopListener) OnTotalTimeChanged(totalMs float64)      {}
func (NopListener) OnLoopModeChanged(enabled bool, start, end float64) {}
