package process

import (
	"time"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/statemach"
	"lactlink/tags"
)

// proving phases
const (
	provIdle = iota
	provWaitValve
	provRunning
)

// proverValveTimeoutSec bounds the DBB valve open confirmation.
const proverValveTimeoutSec = 30.0

// ProveRun is the result of one proving pass.
type ProveRun struct {
	Pulses    uint64  `json:"pulses"`
	RawFactor float64 `json:"raw_factor"`
	TempF     float64 `json:"temp_f"`
}

// ProveReport is the outcome of a complete proving sequence.
type ProveReport struct {
	When          time.Time  `json:"when"`
	Runs          []ProveRun `json:"runs"`
	Repeatability float64    `json:"repeatability"`
	Passed        bool       `json:"passed"`
	OldFactor     float64    `json:"old_factor"`
	NewFactor     float64    `json:"new_factor"`
}

// Proving orchestrates the meter proving sequence: open the prover
// DBB valve, run N passes against the certified volume, check
// repeatability, and on a pass apply the mean raw factor as the new
// meter factor atomically through the setpoint store.
type Proving struct {
	sps *config.SetpointStore

	phase       int
	active      bool
	runs        []ProveRun
	startPulses uint64
	phaseScan   uint64

	returnSignal bool
	report       *ProveReport
	onComplete   func(ProveReport)
}

// NewProving creates the proving module. The setpoint store receives
// the new meter factor when a prove passes.
func NewProving(sps *config.SetpointStore) *Proving {
	return &Proving{sps: sps}
}

func (p *Proving) Name() string { return "proving" }

// SetOnComplete sets a callback fired with the finished report.
func (p *Proving) SetOnComplete(fn func(ProveReport)) {
	p.onComplete = fn
}

// Active reports whether a proving sequence is in progress.
func (p *Proving) Active() bool { return p.active }

// LastReport returns the most recent proving report, or nil.
func (p *Proving) LastReport() *ProveReport { return p.report }

// Begin arms the proving sequence. Called by the controller on the
// scan thread when the PROVE command is accepted.
func (p *Proving) Begin() {
	p.active = true
	p.phase = provWaitValve
	p.runs = nil
	p.returnSignal = false
}

// SignalReturn marks the prover displacer as returned, ending the
// current run. Driven by the PROVE_RETURN operator command; a prover
// return switch instead sets the PROVE_RETURN tag, which Execute reads.
func (p *Proving) SignalReturn() {
	p.returnSignal = true
}

func (p *Proving) Execute(env Env) error {
	st := env.Store

	if !p.active {
		st.WriteAny(tags.ProveActive, false)
		return nil
	}
	if env.State != statemach.Proving {
		// E-stop or shutdown yanked the unit out from under the
		// prove; drop the valve and stand down.
		env.logf("[proving] aborted: unit left PROVING")
		p.finish(env, false)
		return nil
	}
	st.WriteAny(tags.ProveActive, true)
	st.WriteAny(tags.ProveRunCount, len(p.runs))

	switch p.phase {
	case provWaitValve:
		st.WriteBool(tags.DOProverVlvCmd, true)
		if p.phaseScan == 0 {
			p.phaseScan = env.Scan
		}
		if open, _ := st.Bool(tags.DIProverVlvOpen); open {
			p.startRun(env)
		} else if env.Scan-p.phaseScan > env.scansFor(proverValveTimeoutSec) {
			env.logf("[proving] aborted: prover valve open timeout")
			env.Ann.Raise(alarm.AlmProveAbort, alarm.SeverityWarn, alarm.ActionNone, 0)
			p.finish(env, false)
		}

	case provRunning:
		if p.returnSignal || virtualBool(st, tags.ProveReturn) {
			p.returnSignal = false
			st.WriteAny(tags.ProveReturn, false)
			p.endRun(env)
		} else if env.Scan-p.phaseScan > env.scansFor(env.SP.ProveRunTimeoutSec) {
			env.logf("[proving] aborted: run %d exceeded deadline", len(p.runs)+1)
			env.Ann.Raise(alarm.AlmProveAbort, alarm.SeverityWarn, alarm.ActionNone, 0)
			p.finish(env, false)
		}
	}
	return nil
}

func (p *Proving) startRun(env Env) {
	pulses, _ := env.Store.Count(tags.PIMeterPulse)
	p.startPulses = pulses
	p.phase = provRunning
	p.phaseScan = env.Scan
	env.logf("[proving] run %d started", len(p.runs)+1)
}

func (p *Proving) endRun(env Env) {
	st := env.Store
	sp := env.SP

	end, _ := st.Count(tags.PIMeterPulse)
	pulses := end - p.startPulses // modular on wrap
	if pulses == 0 || sp.MeterKFactor <= 0 {
		env.logf("[proving] aborted: no pulses accumulated in run %d", len(p.runs)+1)
		env.Ann.Raise(alarm.AlmProveAbort, alarm.SeverityWarn, alarm.ActionNone, 0)
		p.finish(env, false)
		return
	}

	indicated := float64(pulses) / sp.MeterKFactor
	temp, _ := st.Float(tags.AIMeterTemp)
	run := ProveRun{
		Pulses:    pulses,
		RawFactor: sp.ProveCertifiedBarrels / indicated,
		TempF:     temp,
	}
	p.runs = append(p.runs, run)
	env.logf("[proving] run %d complete: raw factor %.5f (%d pulses)",
		len(p.runs), run.RawFactor, run.Pulses)

	if len(p.runs) >= sp.ProveRuns {
		p.conclude(env)
	} else {
		p.startRun(env)
	}
}

// conclude checks repeatability over the recorded runs and applies
// the mean raw factor when it passes.
func (p *Proving) conclude(env Env) {
	sp := env.SP

	min, max, sum := p.runs[0].RawFactor, p.runs[0].RawFactor, 0.0
	for _, r := range p.runs {
		if r.RawFactor < min {
			min = r.RawFactor
		}
		if r.RawFactor > max {
			max = r.RawFactor
		}
		sum += r.RawFactor
	}
	repeatability := (max - min) / min
	mean := sum / float64(len(p.runs))

	rep := ProveReport{
		When:          env.Now,
		Runs:          p.runs,
		Repeatability: repeatability,
		OldFactor:     sp.MeterFactor,
		NewFactor:     sp.MeterFactor,
	}

	if repeatability <= sp.RepeatabilityTolerance {
		if err := p.sps.Apply(config.Patch{"meter_factor": mean}); err != nil {
			env.logf("[proving] failed: meter factor %.5f outside acceptance: %v", mean, err)
			env.Ann.Raise(alarm.AlmProveFail, alarm.SeverityWarn, alarm.ActionNone, mean)
		} else {
			rep.Passed = true
			rep.NewFactor = mean
			env.logf("[proving] passed: meter factor %.5f applied (repeatability %.6f)",
				mean, repeatability)
		}
	} else {
		env.logf("[proving] failed repeatability: %.6f > %.6f", repeatability, sp.RepeatabilityTolerance)
		env.Ann.Raise(alarm.AlmProveFail, alarm.SeverityWarn, alarm.ActionNone, repeatability)
	}

	p.report = &rep
	p.finish(env, rep.Passed)
	if p.onComplete != nil {
		p.onComplete(rep)
	}
}

func (p *Proving) finish(env Env, passed bool) {
	env.Store.WriteBool(tags.DOProverVlvCmd, false)
	env.Store.WriteAny(tags.ProveActive, false)
	p.active = false
	p.phase = provIdle
	p.phaseScan = 0
}
