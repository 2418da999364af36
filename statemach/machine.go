package statemach

import (
	"lactlink/alarm"
	"lactlink/config"
	"lactlink/tags"
	"lactlink/tagstore"
)

// Env is the per-scan context handed to the machine: the process
// image, the setpoint snapshot resolved at scan entry, the safety
// requests produced this scan, and the scan index for deadlines.
type Env struct {
	Store    *tagstore.Store
	SP       config.Setpoints
	Requests alarm.Requests
	Ann      *alarm.Annunciator
	Scan     uint64
}

// scans converts a setpoint expressed in seconds into a scan count,
// never less than one.
func (e Env) scans(sec float64) uint64 {
	n := uint64(sec * 1000.0 / float64(e.SP.ScanPeriodMS))
	if n == 0 {
		n = 1
	}
	return n
}

// Machine runs the operating state machine. All waits are deadlines
// in scan counts; no handler ever blocks.
type Machine struct {
	state     State
	prev      State
	entryScan uint64
	step      int
	stepScan  uint64

	pending    State
	hasPending bool

	store *tagstore.Store
	logFn func(format string, args ...interface{})

	onChange func(from, to State)
}

// New creates a machine in Idle.
func New(store *tagstore.Store) *Machine {
	return &Machine{state: Idle, prev: Idle, store: store}
}

// SetLogFunc sets the logging callback.
func (m *Machine) SetLogFunc(fn func(format string, args ...interface{})) {
	m.logFn = fn
}

// SetOnChange sets a callback fired after every committed transition.
func (m *Machine) SetOnChange(fn func(from, to State)) {
	m.onChange = fn
}

func (m *Machine) log(format string, args ...interface{}) {
	if m.logFn != nil {
		m.logFn("[state] "+format, args...)
	}
}

// State returns the current operating state.
func (m *Machine) State() State { return m.state }

// Request records an operator-commanded target state, validated on
// the next Step. Only the most recent request per scan is honored.
func (m *Machine) Request(target State) {
	m.pending = target
	m.hasPending = true
}

// InState returns the number of scans spent in the current state.
func (m *Machine) InState(scan uint64) uint64 {
	return scan - m.entryScan
}

func (m *Machine) inStep(env Env) uint64 {
	return env.Scan - m.stepScan
}

func (m *Machine) advance(env Env, step int) {
	m.step = step
	m.stepScan = env.Scan
}

// transition validates and commits a state change, running the entry
// action for the new state. Illegal targets raise an Info alarm and
// leave the state unchanged.
func (m *Machine) transition(env Env, to State) bool {
	println("DEBUG transition", m.state.String(), "->", to.String(), "legal=", legal(m.state, to))
	if !legal(m.state, to) {
		m.log("illegal transition %s -> %s rejected", m.state, to)
		if env.Ann != nil {
			env.Ann.Raise(alarm.AlmIllegalCmd, alarm.SeverityInfo, alarm.ActionNone, 0)
		}
		return false
	}
	from := m.state
	m.log("transition %s -> %s", from, to)
	m.prev = from
	m.state = to
	m.entryScan = env.Scan
	m.step = 0
	m.stepScan = env.Scan

	m.store.WriteAny(tags.PrevState, from.String())
	m.store.WriteAny(tags.LACTState, to.String())
	m.entering(env, to)
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}

// entering runs the one-shot entry action for a state.
func (m *Machine) entering(env Env, s State) {
	st := m.store
	switch s {
	case Idle:
		st.WriteBool(tags.DOPumpStart, false)
		st.WriteBool(tags.DOSampleSol, false)
		st.WriteBool(tags.DOSampleMixPump, false)
		st.WriteBool(tags.DOProverVlvCmd, false)
		st.WriteBool(tags.DODivertCmd, true)
		st.WriteBool(tags.DOStatusGreen, false)
	case Startup:
		st.WriteBool(tags.DODivertCmd, true)
	case Running:
		st.WriteBool(tags.DODivertCmd, false)
		st.WriteBool(tags.DOStatusGreen, true)
	case Divert:
		st.WriteBool(tags.DODivertCmd, true)
		st.WriteBool(tags.DOStatusGreen, false)
	case Shutdown:
		st.WriteBool(tags.DODivertCmd, true)
		st.WriteBool(tags.DOSampleSol, false)
		st.WriteBool(tags.DOSampleMixPump, false)
		st.WriteBool(tags.DOProverVlvCmd, false)
	case EStop:
		st.WriteBool(tags.DOPumpStart, false)
		st.WriteBool(tags.DOSampleSol, false)
		st.WriteBool(tags.DOSampleMixPump, false)
		st.WriteBool(tags.DOProverVlvCmd, false)
		st.WriteBool(tags.DODivertCmd, true)
		st.WriteBool(tags.DOAlarmBeacon, true)
		st.WriteBool(tags.DOAlarmHorn, true)
		st.WriteBool(tags.DOStatusGreen, false)
	}
}

// Step runs one scan of the machine: pending operator command first,
// then safety requests (safety wins), then the per-scan action for
// the resulting state.
func (m *Machine) Step(env Env) {
	if m.hasPending {
		target := m.pending
		m.hasPending = false
		// Leaving EStop additionally requires the E-stop input to be
		// physically cleared.
		if m.state == EStop && target == Idle {
			if asserted, _ := m.store.Bool(tags.DIEStop); asserted {
				m.log("reset rejected: E-stop still asserted")
				if env.Ann != nil {
					env.Ann.Raise(alarm.AlmIllegalCmd, alarm.SeverityInfo, alarm.ActionNone, 0)
				}
				target = m.state
			}
		}
		if target != m.state {
			m.transition(env, target)
		}
	}

	// Safety requests override operator intent.
	switch {
	case env.Requests.EStop:
		if m.state != EStop {
			m.transition(env, EStop)
		}
	case env.Requests.Shutdown:
		switch m.state {
		case Running, Divert:
			m.transition(env, Shutdown)
		case Proving:
			// Abort the prove; the request persists and lands the
			// unit in Shutdown next scan.
			m.store.WriteBool(tags.DOProverVlvCmd, false)
			m.transition(env, Running)
		case Startup:
			m.log("startup aborted on shutdown request")
			m.transition(env, Idle)
		}
	case env.Requests.Divert:
		if m.state == Running {
			m.transition(env, Divert)
		}
	}

	switch m.state {
	case Idle:
		m.stepIdle(env)
	case Startup:
		m.stepStartup(env)
	case Running:
		m.stepRunning(env)
	case Divert:
		m.stepDivert(env)
	case Proving:
		m.stepProving(env)
	case Shutdown:
		m.stepShutdown(env)
	case EStop:
		m.stepEStop(env)
	}
}

func (m *Machine) stepIdle(env Env) {
	st := m.store
	st.WriteBool(tags.DOPumpStart, false)
	st.WriteBool(tags.DOSampleSol, false)
	st.WriteBool(tags.DOSampleMixPump, false)
	st.WriteBool(tags.DODivertCmd, true)
	st.WriteBool(tags.DOStatusGreen, false)
}

// stepStartup walks the scan-paced startup sequence: align the divert
// valve to DIVERT, start the pump, let BS&W stabilize, then swing to
// SALES if the stream is clean.
func (m *Machine) stepStartup(env Env) {
	st := m.store
	sp := env.SP

	switch m.step {
	case 0:
		inlet, _ := st.Bool(tags.DIInletVlvOpen)
		outlet, _ := st.Bool(tags.DIOutletVlvOpen)
		if !inlet || !outlet {
			m.log("startup aborted: inlet/outlet valves not aligned")
			m.transition(env, Idle)
			return
		}
		st.WriteBool(tags.DODivertCmd, true)
		m.advance(env, 1)

	case 1:
		if at, _ := st.Bool(tags.DIDivertDivert); at {
			m.advance(env, 2)
		} else if m.inStep(env) > env.scans(sp.DivertTravelTimeoutSec) {
			m.log("startup aborted: divert valve travel timeout")
			m.transition(env, Idle)
		}

	case 2:
		st.WriteBool(tags.DOPumpStart, true)
		m.advance(env, 3)

	case 3:
		if running, _ := st.Bool(tags.DIPumpRunning); running {
			m.advance(env, 4)
		} else if m.inStep(env) > env.scans(sp.PumpStartTimeoutSec) {
			m.log("startup aborted: pump failed to start")
			st.WriteBool(tags.DOPumpStart, false)
			m.transition(env, Idle)
		}

	case 4:
		if m.inStep(env) < env.scans(sp.BSWStabilizeSec) {
			return
		}
		bsw := rollingBSW(st)
		if bsw < sp.BSWDivertPct {
			st.WriteBool(tags.DODivertCmd, false)
			m.advance(env, 5)
		} else {
			m.log("startup: BS&W %.2f%% above divert setpoint, entering DIVERT", bsw)
			m.transition(env, Divert)
		}

	case 5:
		if at, _ := st.Bool(tags.DIDivertSales); at {
			m.transition(env, Running)
		} else if m.inStep(env) > env.scans(sp.DivertTravelTimeoutSec) {
			m.log("startup aborted: divert valve failed to reach SALES")
			st.WriteBool(tags.DOPumpStart, false)
			m.transition(env, Idle)
		}
	}
}

func (m *Machine) stepRunning(env Env) {
	m.store.WriteBool(tags.DODivertCmd, false)
	m.store.WriteBool(tags.DOStatusGreen, true)
}

func (m *Machine) stepDivert(env Env) {
	m.store.WriteBool(tags.DODivertCmd, true)
	// Recover once the safety manager stops demanding the divert.
	if !env.Requests.Divert {
		m.transition(env, Running)
	}
}

func (m *Machine) stepProving(env Env) {
	m.store.WriteBool(tags.DOStatusGreen, true)
	// The proving module drops PROVE_ACTIVE when the sequence ends.
	sm, err := m.store.Read(tags.ProveActive)
	if err == nil {
		if active, ok := sm.Any.(bool); ok && !active {
			m.transition(env, Running)
		}
	}
}

// stepShutdown sequences the orderly stop: divert, stop the pump,
// confirm it has stopped.
func (m *Machine) stepShutdown(env Env) {
	st := m.store
	switch m.step {
	case 0:
		st.WriteBool(tags.DODivertCmd, true)
		st.WriteBool(tags.DOSampleSol, false)
		st.WriteBool(tags.DOSampleMixPump, false)
		st.WriteBool(tags.DOPumpStart, false)
		m.advance(env, 1)
	case 1:
		running, _ := st.Bool(tags.DIPumpRunning)
		if !running {
			st.WriteBool(tags.DOStatusGreen, false)
			m.transition(env, Idle)
		} else if m.inStep(env) > env.scans(15.0) {
			m.log("pump did not confirm stop during shutdown")
			st.WriteBool(tags.DOStatusGreen, false)
			m.transition(env, Idle)
		}
	}
}

func (m *Machine) stepEStop(env Env) {
	st := m.store
	st.WriteBool(tags.DOPumpStart, false)
	st.WriteBool(tags.DOSampleSol, false)
	st.WriteBool(tags.DOSampleMixPump, false)
	st.WriteBool(tags.DOProverVlvCmd, false)
	st.WriteBool(tags.DODivertCmd, true)
	st.WriteBool(tags.DOStatusGreen, false)
}

// rollingBSW reads the BS&W monitor's published mean, falling back to
// the raw probe only when BSW_PCT cannot be read or holds no float64.
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
