// Package sim is the hardware simulator: a seeded process model of
// the LACT skid that stands in for the field I/O during development
// and testing. It satisfies ioport.Port, advancing one fixed step per
// input read so a frozen clock and a fixed seed reproduce the same
// tag snapshots scan for scan.
package sim

import (
	"math/rand"
	"sync"

	"lactlink/ioport"
	"lactlink/tags"
	"lactlink/tagstore"
)

// Simulator models the skid: pump spin-up, divert valve travel,
// meter pulses proportional to flow, and noisy analog signals.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	dt  float64 // seconds advanced per ReadInputs

	// pump
	pumpCmd      bool
	runFeedback  bool
	spinUpSec    float64
	sinceStart   float64
	overload     bool
	flowRateBPH  float64
	targetFlow   float64

	// divert valve: 0 = SALES, 1 = DIVERT
	divertCmd bool
	divertPos float64
	travelSec float64

	// prover
	proverCmd   bool
	proverPos   float64

	// signals
	pulseCount   uint64
	pulseFrac    float64
	kFactor      float64
	bswPct       float64
	tempF        float64
	inletPSI     float64
	outletPSI    float64
	strainerPSI  float64
	noise        float64
	potLevelGal  float64
	estop        bool
	inletOpen    bool
	outletOpen   bool
}

// New creates a simulator advancing periodMS of process time per scan.
func New(seed int64, periodMS int) *Simulator {
	return &Simulator{
		rng:        rand.New(rand.NewSource(seed)),
		dt:         float64(periodMS) / 1000.0,
		spinUpSec:  2.0,
		targetFlow: 400.0,
		travelSec:  1.0,
		kFactor:    100.0,
		bswPct:     0.3,
		tempF:      60.0,
		inletPSI:   45.0,
		outletPSI:  35.0,
		strainerPSI: 2.0,
		noise:      0.0,
		inletOpen:  true,
		outletOpen: true,
	}
}

// ReadInputs advances the model one step and publishes every field
// input into the store.
func (s *Simulator) ReadInputs(store *tagstore.Store) error {
	s.mu.Lock()
	s.step()

	type diPoint struct {
		tag string
		val bool
	}
	di := []diPoint{
		{tags.DIInletVlvOpen, s.inletOpen},
		{tags.DIInletVlvClosed, !s.inletOpen},
		{tags.DIStrainerHiDP, false},
		{tags.DIPumpRunning, s.runFeedback},
		{tags.DIPumpOverload, s.overload},
		{tags.DIDivertSales, s.divertPos < 0.1},
		{tags.DIDivertDivert, s.divertPos > 0.9},
		{tags.DISamplePotHi, s.potLevelGal >= 15.0},
		{tags.DISamplePotLo, s.potLevelGal <= 0.5},
		{tags.DIProverVlvOpen, s.proverPos > 0.9},
		{tags.DIAirElimFloat, false},
		{tags.DIOutletVlvOpen, s.outletOpen},
		{tags.DIEStop, s.estop},
	}
	type aiPoint struct {
		tag string
		val float64
	}
	// Fixed order: the noise draws must be reproducible per seed.
	ai := []aiPoint{
		{tags.AIInletPress, s.inletPSI + s.gauss(0.5)},
		{tags.AILoopHiPress, s.inletPSI*0.95 + s.gauss(0.5)},
		{tags.AIStrainerDP, s.strainerPSI + s.gauss(0.3)},
		{tags.AIBSWProbe, s.bswPct + s.gauss(0.01)},
		{tags.AIMeterTemp, s.tempF + s.gauss(0.05)},
		{tags.AITestThermo, s.tempF + s.gauss(0.2)},
		{tags.AIOutletPress, s.outletPSI + s.gauss(0.3)},
	}
	pulses := s.pulseCount
	s.mu.Unlock()

	for _, p := range di {
		store.WriteBool(p.tag, p.val)
	}
	for _, p := range ai {
		store.WriteFloat(p.tag, p.val)
	}
	store.WriteCount(tags.PIMeterPulse, pulses)
	return nil
}

// WriteOutputs feeds the controller's coil and register commands back
// into the model.
func (s *Simulator) WriteOutputs(store *tagstore.Store) error {
	pump, _ := store.Bool(tags.DOPumpStart)
	divert, _ := store.Bool(tags.DODivertCmd)
	prover, _ := store.Bool(tags.DOProverVlvCmd)
	sol, _ := store.Bool(tags.DOSampleSol)

	s.mu.Lock()
	if pump && !s.pumpCmd {
		s.sinceStart = 0
	}
	s.pumpCmd = pump
	s.divertCmd = divert
	s.proverCmd = prover
	if sol {
		s.potLevelGal += 0.0005 * s.dt
	}
	s.mu.Unlock()
	return nil
}

// Close satisfies ioport.Port.
func (s *Simulator) Close() error { return nil }

// step advances the process model by one scan interval.
func (s *Simulator) step() {
	dt := s.dt

	// Pump dynamics: feedback after spin-up, flow ramps toward target.
	if s.pumpCmd && !s.overload {
		s.sinceStart += dt
		if s.sinceStart >= s.spinUpSec {
			s.runFeedback = true
		}
		if s.runFeedback {
			s.flowRateBPH += (s.targetFlow - s.flowRateBPH) * 0.05
		}
	} else {
		s.runFeedback = false
		s.flowRateBPH *= 0.8
		if s.flowRateBPH < 1.0 {
			s.flowRateBPH = 0
		}
	}

	// Meter pulses from flow, carrying the fractional remainder.
	if s.flowRateBPH > 0 {
		s.pulseFrac += s.flowRateBPH / 3600.0 * s.kFactor * dt
		whole := uint64(s.pulseFrac)
		s.pulseCount += whole
		s.pulseFrac -= float64(whole)
	}

	// Valve travel.
	rate := dt / s.travelSec
	if s.divertCmd {
		s.divertPos = min1(s.divertPos + rate)
	} else {
		s.divertPos = max0(s.divertPos - rate)
	}
	if s.proverCmd {
		s.proverPos = min1(s.proverPos + rate)
	} else {
		s.proverPos = max0(s.proverPos - rate)
	}
}

func (s *Simulator) gauss(amp float64) float64 {
	if s.noise == 0 {
		return 0
	}
	return s.rng.NormFloat64() * amp * s.noise
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// ── Test and demo controls ─────────────────────────────────────────

// SetNoise scales the gaussian noise on analog signals; 0 disables it.
func (s *Simulator) SetNoise(amp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = amp
}

// SetBSW overrides the base BS&W percentage.
func (s *Simulator) SetBSW(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bswPct = pct
}

// SetTemperature overrides the process temperature.
func (s *Simulator) SetTemperature(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempF = f
}

// SetInletPressure overrides the inlet pressure.
func (s *Simulator) SetInletPressure(psi float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inletPSI = psi
}

// SetEStop asserts or releases the E-stop input.
func (s *Simulator) SetEStop(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estop = active
}

// TriggerOverload trips the pump motor overload relay.
func (s *Simulator) TriggerOverload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overload = true
}

// ClearOverload resets the overload relay.
func (s *Simulator) ClearOverload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overload = false
}

// InjectPulses adds raw counts to the meter pulse accumulator.
func (s *Simulator) InjectPulses(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulseCount += n
}

// SetFlowTarget changes the nominal flow rate the pump ramps toward.
func (s *Simulator) SetFlowTarget(bph float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetFlow = bph
}

// FlowRate returns the model's current flow rate.
func (s *Simulator) FlowRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowRateBPH
}

var _ ioport.Port = (*Simulator)(nil)
