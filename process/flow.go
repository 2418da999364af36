package process

import (
	"time"

	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

// Batch is the running custody-transfer totalization record. Totals
// grow monotonically while the unit runs and freeze on shutdown; the
// record is zeroed only by an explicit close-batch command.
type Batch struct {
	Open        bool      `json:"open"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	GrossBBL    float64   `json:"gross_bbl"`
	NetBBL      float64   `json:"net_bbl"`
	DivertedBBL float64   `json:"diverted_bbl"`
	MeterFactor float64   `json:"meter_factor"`
	AvgTempF    float64   `json:"avg_temp_f"`
	SampleML    float64   `json:"sample_ml"`
	Grabs       int       `json:"grabs"`

	tempSum   float64
	tempScans uint64
}

// Flow processes the meter pulse train into gross and net barrels.
// Pulse deltas use unsigned modular subtraction so a counter wrap
// never produces a negative increment. CTL follows the linear field
// approximation CTL = 1 - alpha*(T - base), clamped to [0.90, 1.10].
type Flow struct {
	prevPulses uint64
	primed     bool
	batch      Batch
}

// NewFlow creates the flow measurement module.
func NewFlow() *Flow {
	return &Flow{}
}

func (f *Flow) Name() string { return "flow" }

// CTL computes the correction for temperature on liquid. The second
// return is false when the clamp engaged and the interval should be
// marked Uncertain.
func CTL(tempF, baseF, alpha float64) (float64, bool) {
	ctl := 1.0 - alpha*(tempF-baseF)
	if ctl < 0.90 {
		return 0.90, false
	}
	if ctl > 1.10 {
		return 1.10, false
	}
	return ctl, true
}

func (f *Flow) Execute(env Env) error {
	st := env.Store
	sp := env.SP

	cur, err := st.Count(tags.PIMeterPulse)
	if err != nil {
		return err
	}
	var delta uint64
	if f.primed {
		delta = cur - f.prevPulses // modular on wrap
	}
	f.prevPulses = cur
	f.primed = true

	grossDelta := 0.0
	if sp.MeterKFactor > 0 {
		grossDelta = float64(delta) / sp.MeterKFactor
	}

	rateBPH := grossDelta * 3600000.0 / float64(sp.ScanPeriodMS)

	tempF, _ := st.Float(tags.AIMeterTemp)
	ctl, inBounds := CTL(tempF, sp.TempBaseDegF, sp.APIThermalExpansionAlpha)
	netDelta := grossDelta * sp.MeterFactor * ctl

	pumpRun, _ := st.Bool(tags.DIPumpRunning)
	if accumulating(env.State) && pumpRun {
		if !f.batch.Open {
			f.batch.Open = true
			f.batch.StartTime = env.Now
			f.batch.MeterFactor = sp.MeterFactor
		}
		if env.State == statemach.Divert {
			// Rejected oil runs on a separate ledger.
			f.batch.DivertedBBL += netDelta
		} else {
			f.batch.GrossBBL += grossDelta
			f.batch.NetBBL += netDelta
		}
		f.batch.tempSum += tempF
		f.batch.tempScans++
	}

	st.WriteAny(tags.FlowRateBPH, rateBPH)
	st.WriteAny(tags.FlowNetDeltaBBL, netDelta)
	st.WriteAny(tags.FlowTotalBBL, f.batch.GrossBBL)
	st.WriteAny(tags.FlowNetBBL, f.batch.NetBBL)
	st.WriteAny(tags.BatchGrossBBL, f.batch.GrossBBL)
	st.WriteAny(tags.BatchNetBBL, f.batch.NetBBL)
	st.WriteAny(tags.BatchDivertBBL, f.batch.DivertedBBL)
	st.WriteAny(tags.MeterFactor, sp.MeterFactor)
	st.WriteAny(tags.CTLFactor, ctl)
	if !inBounds {
		st.SetQuality(tags.CTLFactor, tagstore.QualityUncertain)
	}
	return nil
}

// Batch returns a copy of the current batch record with the average
// temperature resolved.
func (f *Flow) Batch() Batch {
	b := f.batch
	if b.tempScans > 0 {
		b.AvgTempF = b.tempSum / float64(b.tempScans)
	}
	return b
}

// CloseBatch stamps the end time, returns the finished record, and
// zeroes the totals for the next batch.
func (f *Flow) CloseBatch(now time.Time) Batch {
	b := f.Batch()
	b.EndTime = now
	b.Open = false
	f.batch = Batch{}
	return b
}
