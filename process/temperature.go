package process

import (
	"lactlink/tags"
	"lactlink/tagstore"
)

// tempAvgWindow smooths the TA probe for display; the flow module
// applies CTL and averages the batch temperature against the raw probe
// so the custody math never lags the signal.
const tempAvgWindow = 10

// Temperature publishes the smoothed meter TA probe reading; it does
// not read the test thermowell. The hi/lo and meter/test delta
// interlocks live in the safety manager.
type Temperature struct {
	ring  [tempAvgWindow]float64
	count int
	next  int
	sum   float64
}

// NewTemperature creates the temperature module.
func NewTemperature() *Temperature {
	return &Temperature{}
}

func (t *Temperature) Name() string { return "temperature" }

func (t *Temperature) Execute(env Env) error {
	st := env.Store

	sm, err := st.Read(tags.AIMeterTemp)
	if err != nil {
		return err
	}
	if sm.Quality == tagstore.QualityBad || sm.Quality == tagstore.QualityNotConnected {
		st.SetQuality(tags.TempCorrected, tagstore.QualityBad)
		return nil
	}

	if t.count == tempAvgWindow {
		t.sum -= t.ring[t.next]
	} else {
		t.count++
	}
	t.ring[t.next] = sm.Float
	t.sum += sm.Float
	t.next = (t.next + 1) % tempAvgWindow

	st.WriteAny(tags.TempCorrected, t.sum/float64(t.count))
	return nil
}
