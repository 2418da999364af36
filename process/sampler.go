package process

import (
	"lactlink/statemach"
	"lactlink/tags"
)

// Sampler fires flow-proportional grab samples: it accumulates net
// barrels since the last grab and energizes the sample solenoid for
// the configured duration each time the accumulator crosses the
// per-grab threshold. Grabs are suppressed outside Running and while
// the sample pot is full. The mixing pump runs continuously in
// Running.
type Sampler struct {
	accumBBL      float64
	sinceGrab     uint64
	grabRemaining uint64
	grabs         int
	totalML       float64
}

// NewSampler creates the sampling module.
func NewSampler() *Sampler {
	return &Sampler{}
}

func (s *Sampler) Name() string { return "sampler" }

func (s *Sampler) Execute(env Env) error {
	st := env.Store
	sp := env.SP

	st.WriteBool(tags.DOSampleMixPump, env.State == statemach.Running)

	// Finish an in-flight grab pulse.
	if s.grabRemaining > 0 {
		s.grabRemaining--
		if s.grabRemaining == 0 {
			st.WriteBool(tags.DOSampleSol, false)
		}
	}

	potHi, _ := st.Bool(tags.DISamplePotHi)
	if env.State != statemach.Running || potHi {
		st.WriteBool(tags.DOSampleSol, false)
		s.grabRemaining = 0
		return nil
	}

	s.accumBBL += virtualFloat(st, tags.FlowNetDeltaBBL)
	s.sinceGrab++

	trigger := false
	if sp.SampleBarrelsPerGrab > 0 {
		trigger = s.accumBBL >= sp.SampleBarrelsPerGrab
	} else {
		trigger = s.sinceGrab >= env.scansFor(sp.SampleRateSec)
	}

	if trigger && s.grabRemaining == 0 {
		st.WriteBool(tags.DOSampleSol, true)
		s.grabRemaining = env.scansFor(float64(sp.GrabDurationMS) / 1000.0)
		s.grabs++
		s.totalML += sp.GrabVolumeML
		s.accumBBL = 0
		s.sinceGrab = 0
		st.WriteAny(tags.SampleGrabs, s.grabs)
		st.WriteAny(tags.SampleTotalML, s.totalML)
	}
	return nil
}

// Grabs returns the grab count this batch.
func (s *Sampler) Grabs() int { return s.grabs }

// TotalML returns the accumulated sample volume this batch.
func (s *Sampler) TotalML() float64 { return s.totalML }

// ResetTotals zeroes the per-batch sample tallies.
func (s *Sampler) ResetTotals() {
	s.grabs = 0
	s.totalML = 0
	s.accumBBL = 0
	s.sinceGrab = 0
}
