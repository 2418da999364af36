package process

import (
	"lactlink/alarm"
	"lactlink/tags"
)

// outletSpanPSI is the declared range of the outlet transmitter; the
// hysteresis band is 2% of span.
const outletSpanPSI = 300.0

// Pressure drives the backpressure valve setpoints and supervises the
// outlet transmitter with a hysteresis low alarm. The shutdown-grade
// pressure interlocks live in the safety manager.
type Pressure struct {
	outletLow bool
}

// NewPressure creates the pressure module.
func NewPressure() *Pressure {
	return &Pressure{}
}

func (p *Pressure) Name() string { return "pressure" }

func (p *Pressure) Execute(env Env) error {
	st := env.Store
	sp := env.SP

	st.WriteFloat(tags.AOBPSalesSP, sp.BackpressureSalesPSI)
	st.WriteFloat(tags.AOBPDivertSP, sp.BackpressureDivertPSI)

	pumpRun, _ := st.Bool(tags.DIPumpRunning)
	outlet, _ := st.Float(tags.AIOutletPress)
	hyst := 0.02 * outletSpanPSI

	if pumpRun && outlet < sp.OutletPressLoPSI {
		p.outletLow = true
	} else if !pumpRun || outlet > sp.OutletPressLoPSI+hyst {
		p.outletLow = false
	}

	if p.outletLow {
		env.Ann.Raise(alarm.AlmOutletPressLo, alarm.SeverityWarn, alarm.ActionNone, outlet)
	} else {
		env.Ann.Clear(alarm.AlmOutletPressLo)
	}
	return nil
}
