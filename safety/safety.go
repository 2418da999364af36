// Package safety evaluates the interlock checks each scan. Every
// check is a predicate with a per-side debounce expressed in scans;
// once a check trips it raises its alarm through the annunciator,
// which converts the alarm's action into the shutdown/divert/e-stop
// request consumed by the state machine in the same scan.
package safety

import (
	"lactlink/alarm"
	"lactlink/config"
	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

// Env is the read-only context a predicate sees.
type Env struct {
	Store *tagstore.Store
	SP    config.Setpoints
	State statemach.State
	Scan  uint64
}

// scansFor converts seconds into a scan count, never less than one.
func (e Env) scansFor(sec float64) int {
	n := int(sec * 1000.0 / float64(e.SP.ScanPeriodMS))
	if n < 1 {
		n = 1
	}
	return n
}

// Check is one interlock: a predicate over the process image plus the
// alarm it raises when the predicate holds for OnScans consecutive
// scans. The alarm clears after the predicate is false for OffScans
// consecutive scans. OnSecs, when set, derives the on-side debounce
// from the live setpoint snapshot instead of a fixed count.
type Check struct {
	Alarm     string
	Severity  alarm.Severity
	Action    alarm.Action
	OnScans   int
	OffScans  int
	OnSecs    func(config.Setpoints) float64
	Predicate func(Env) (bool, float64)
}

type checkState struct {
	onCount  int
	offCount int
	active   bool
}

// Manager runs the ordered check list. Order is fixed at
// construction; evaluation is deterministic.
type Manager struct {
	checks []Check
	states []checkState
	ann    *alarm.Annunciator
	logFn  func(format string, args ...interface{})
}

// NewManager creates a manager over the given annunciator with the
// standard check list for the LACT unit.
func NewManager(ann *alarm.Annunciator) *Manager {
	return NewManagerWithChecks(ann, DefaultChecks())
}

// NewManagerWithChecks creates a manager with an explicit check list.
func NewManagerWithChecks(ann *alarm.Annunciator, checks []Check) *Manager {
	return &Manager{
		checks: checks,
		states: make([]checkState, len(checks)),
		ann:    ann,
	}
}

// SetLogFunc sets the logging callback.
func (m *Manager) SetLogFunc(fn func(format string, args ...interface{})) {
	m.logFn = fn
}

// Evaluate runs every check once. While a check is tripped its alarm
// is re-raised every scan so the request flags assert continuously.
func (m *Manager) Evaluate(env Env) {
	for i := range m.checks {
		c := &m.checks[i]
		st := &m.states[i]

		hold, value := c.Predicate(env)

		onNeed := c.OnScans
		if c.OnSecs != nil {
			onNeed = env.scansFor(c.OnSecs(env.SP))
		}
		if onNeed < 1 {
			onNeed = 1
		}
		offNeed := c.OffScans
		if offNeed < 1 {
			offNeed = onNeed
		}

		if hold {
			st.onCount++
			st.offCount = 0
			if st.onCount >= onNeed {
				st.active = true
			}
		} else {
			st.offCount++
			st.onCount = 0
			if st.active && st.offCount >= offNeed {
				st.active = false
				m.ann.Clear(c.Alarm)
			}
		}

		if st.active {
			m.ann.Raise(c.Alarm, c.Severity, c.Action, value)
		}
	}
}

// Tripped reports whether the named check's alarm is currently held
// by this manager. Exposed for tests.
func (m *Manager) Tripped(id string) bool {
	for i := range m.checks {
		if m.checks[i].Alarm == id {
			return m.states[i].active
		}
	}
	return false
}

func inStartupOrRunning(s statemach.State) bool {
	return s == statemach.Startup || s == statemach.Running
}

func pumpRunning(e Env) bool {
	v, _ := e.Store.Bool(tags.DIPumpRunning)
	return v
}

// DefaultChecks is the ordered interlock list. E-stop and overload
// first and undebounced; everything downstream fails safe with its
// own debounce.
func DefaultChecks() []Check {
	return []Check{
		{
			// NC wiring: the DI asserts when the loop de-energizes.
			Alarm:    alarm.AlmEStop,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionEStop,
			OnScans:  1,
			OffScans: 1,
			Predicate: func(e Env) (bool, float64) {
				v, _ := e.Store.Bool(tags.DIEStop)
				return v, 0
			},
		},
		{
			Alarm:    alarm.AlmPumpOverload,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  1,
			OffScans: 1,
			Predicate: func(e Env) (bool, float64) {
				v, _ := e.Store.Bool(tags.DIPumpOverload)
				return v, 0
			},
		},
		{
			Alarm:    alarm.AlmInletVlv,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  2,
			OffScans: 2,
			Predicate: func(e Env) (bool, float64) {
				if !inStartupOrRunning(e.State) {
					return false, 0
				}
				open, _ := e.Store.Bool(tags.DIInletVlvOpen)
				return !open, 0
			},
		},
		{
			Alarm:    alarm.AlmOutletVlv,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  2,
			OffScans: 2,
			Predicate: func(e Env) (bool, float64) {
				if !inStartupOrRunning(e.State) {
					return false, 0
				}
				open, _ := e.Store.Bool(tags.DIOutletVlvOpen)
				return !open, 0
			},
		},
		{
			Alarm:    alarm.AlmInletPressLo,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  10,
			OffScans: 10,
			Predicate: func(e Env) (bool, float64) {
				if !pumpRunning(e) {
					return false, 0
				}
				p, _ := e.Store.Float(tags.AIInletPress)
				return p < e.SP.InletPressLoPSI, p
			},
		},
		{
			Alarm:    alarm.AlmLoopPressHi,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  5,
			OffScans: 5,
			Predicate: func(e Env) (bool, float64) {
				p, _ := e.Store.Float(tags.AILoopHiPress)
				return p > e.SP.LoopPressHiPSI, p
			},
		},
		{
			Alarm:    alarm.AlmStrainerDPHi,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  5,
			OffScans: 5,
			Predicate: func(e Env) (bool, float64) {
				dp, _ := e.Store.Float(tags.AIStrainerDP)
				sw, _ := e.Store.Bool(tags.DIStrainerHiDP)
				return dp > e.SP.StrainerDPHiPSI || sw, dp
			},
		},
		{
			Alarm:    alarm.AlmBSWProbeFail,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionDivert,
			OnScans:  3,
			OffScans: 3,
			Predicate: func(e Env) (bool, float64) {
				sm, err := e.Store.Read(tags.AIBSWProbe)
				if err != nil {
					return true, 0
				}
				bad := sm.Quality == tagstore.QualityBad ||
					sm.Quality == tagstore.QualityNotConnected ||
					sm.Float < 0 || sm.Float > 5
				return bad, sm.Float
			},
		},
		{
			Alarm:    alarm.AlmBSWHigh,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  5,
			OffScans: 5,
			Predicate: func(e Env) (bool, float64) {
				bsw := rollingBSW(e.Store)
				return bsw >= e.SP.BSWAlarmPct, bsw
			},
		},
		{
			Alarm:    alarm.AlmBSWDivert,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionDivert,
			OnSecs:   func(sp config.Setpoints) float64 { return sp.BSWDebounceSec },
			Predicate: func(e Env) (bool, float64) {
				bsw := rollingBSW(e.Store)
				return bsw > e.SP.BSWDivertPct, bsw
			},
		},
		{
			// The divert module publishes the travel fault after
			// timing the commanded move against its deadline.
			Alarm:    alarm.AlmDivertFail,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnScans:  1,
			OffScans: 1,
			Predicate: func(e Env) (bool, float64) {
				sm, err := e.Store.Read(tags.DivertFault)
				if err != nil {
					return false, 0
				}
				v, _ := sm.Any.(bool)
				return v, 0
			},
		},
		{
			Alarm:    alarm.AlmSamplePotFull,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  1,
			OffScans: 1,
			Predicate: func(e Env) (bool, float64) {
				v, _ := e.Store.Bool(tags.DISamplePotHi)
				return v, 0
			},
		},
		{
			Alarm:    alarm.AlmTempLo,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  10,
			OffScans: 10,
			Predicate: func(e Env) (bool, float64) {
				t, _ := e.Store.Float(tags.AIMeterTemp)
				return t < e.SP.TempLoDegF, t
			},
		},
		{
			Alarm:    alarm.AlmTempHi,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  10,
			OffScans: 10,
			Predicate: func(e Env) (bool, float64) {
				t, _ := e.Store.Float(tags.AIMeterTemp)
				return t > e.SP.TempHiDegF, t
			},
		},
		{
			Alarm:    alarm.AlmTempDelta,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  10,
			OffScans: 10,
			Predicate: func(e Env) (bool, float64) {
				meter, _ := e.Store.Float(tags.AIMeterTemp)
				test, _ := e.Store.Float(tags.AITestThermo)
				delta := meter - test
				if delta < 0 {
					delta = -delta
				}
				return delta > e.SP.TempMaxDeltaF, delta
			},
		},
		{
			Alarm:    alarm.AlmGasDetected,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  3,
			OffScans: 3,
			Predicate: func(e Env) (bool, float64) {
				v, _ := e.Store.Bool(tags.DIAirElimFloat)
				return v, 0
			},
		},
		{
			Alarm:    alarm.AlmFlowLo,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  20,
			OffScans: 20,
			Predicate: func(e Env) (bool, float64) {
				if !pumpRunning(e) || e.State != statemach.Running {
					return false, 0
				}
				rate := virtualFloat(e.Store, tags.FlowRateBPH)
				return rate > 0 && rate < e.SP.MeterMinFlowBPH, rate
			},
		},
		{
			Alarm:    alarm.AlmFlowHi,
			Severity: alarm.SeverityWarn,
			Action:   alarm.ActionNone,
			OnScans:  20,
			OffScans: 20,
			Predicate: func(e Env) (bool, float64) {
				if !pumpRunning(e) {
					return false, 0
				}
				rate := virtualFloat(e.Store, tags.FlowRateBPH)
				return rate > e.SP.MeterMaxFlowBPH, rate
			},
		},
		{
			Alarm:    alarm.AlmNoFlow,
			Severity: alarm.SeverityCritical,
			Action:   alarm.ActionShutdown,
			OnSecs:   func(sp config.Setpoints) float64 { return sp.MeterNoFlowTimeoutSec },
			Predicate: func(e Env) (bool, float64) {
				rate := virtualFloat(e.Store, tags.FlowRateBPH)
				return pumpRunning(e) && rate == 0, rate
			},
		},
	}
}

func rollingBSW(st *tagstore.Store) float64 {
	sm, err := st.Read(tags.BSWPct)
	if err == nil {
		if v, ok := sm.Any.(float64); ok {
			return v
		}
	}
	raw, _ := st.Float(tags.AIBSWProbe)
	return raw
}

func virtualFloat(st *tagstore.Store, name string) float64 {
	sm, err := st.Read(name)
	if err != nil {
		return 0
	}
	v, _ := sm.Any.(float64)
	return v
}
