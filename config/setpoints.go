package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrInvalidSetpoint is returned when a patch value falls outside the
// declared domain for its field, or names an unrecognized field.
var ErrInvalidSetpoint = errors.New("invalid setpoint")

// Setpoints is the flat record of tunable process parameters. Modules
// resolve one snapshot at scan entry, so a value never changes
// mid-scan.
type Setpoints struct {
	// BS&W
	BSWDivertPct    float64 `yaml:"bsw_divert_pct"`
	BSWAlarmPct     float64 `yaml:"bsw_alarm_pct"`
	BSWDebounceSec  float64 `yaml:"bsw_debounce_sec"`
	BSWStabilizeSec float64 `yaml:"bsw_stabilize_sec"`

	// Flow measurement
	MeterKFactor         float64 `yaml:"meter_k_factor"`
	MeterFactor          float64 `yaml:"meter_factor"`
	MeterMinFlowBPH      float64 `yaml:"meter_min_flow_bph"`
	MeterMaxFlowBPH      float64 `yaml:"meter_max_flow_bph"`
	MeterNoFlowTimeoutSec float64 `yaml:"meter_no_flow_timeout_sec"`

	// Temperature correction
	APIThermalExpansionAlpha float64 `yaml:"api_thermal_expansion_alpha"`
	TempBaseDegF             float64 `yaml:"temp_base_deg_f"`
	TempLoDegF               float64 `yaml:"temp_lo_deg_f"`
	TempHiDegF               float64 `yaml:"temp_hi_deg_f"`
	TempMaxDeltaF            float64 `yaml:"temp_max_delta_f"`

	// Pressure
	InletPressLoPSI      float64 `yaml:"inlet_press_lo_psi"`
	LoopPressHiPSI       float64 `yaml:"loop_press_hi_psi"`
	StrainerDPHiPSI      float64 `yaml:"strainer_dp_hi_psi"`
	OutletPressLoPSI     float64 `yaml:"outlet_press_lo_psi"`
	BackpressureSalesPSI  float64 `yaml:"backpressure_sales_psi"`
	BackpressureDivertPSI float64 `yaml:"backpressure_divert_psi"`

	// Sampling
	SampleRateSec        float64 `yaml:"sample_rate_sec"`
	SampleBarrelsPerGrab float64 `yaml:"sample_barrels_per_grab"`
	GrabDurationMS       int     `yaml:"grab_duration_ms"`
	GrabVolumeML         float64 `yaml:"grab_volume_ml"`

	// Pump protection
	PumpMaxStartsPerHour int     `yaml:"pump_max_starts_per_hour"`
	PumpLockoutSec       float64 `yaml:"pump_lockout_sec"`
	PumpStartTimeoutSec  float64 `yaml:"pump_start_timeout_sec"`

	// Divert valve
	DivertTravelTimeoutSec float64 `yaml:"divert_travel_timeout_sec"`

	// Proving
	ProveRuns              int     `yaml:"prove_runs"`
	RepeatabilityTolerance float64 `yaml:"repeatability_tolerance"`
	ProveCertifiedBarrels  float64 `yaml:"prove_certified_barrels"`
	ProveRunTimeoutSec     float64 `yaml:"prove_run_timeout_sec"`

	// Executive
	ScanPeriodMS int `yaml:"scan_period_ms"`
	IOTimeoutMS  int `yaml:"io_timeout_ms"`
}

// DefaultSetpoints returns factory defaults for a 3" LACT skid.
func DefaultSetpoints() Setpoints {
	return Setpoints{
		BSWDivertPct:    1.0,
		BSWAlarmPct:     0.5,
		BSWDebounceSec:  5.0,
		BSWStabilizeSec: 15.0,

		MeterKFactor:          100.0,
		MeterFactor:           1.0000,
		MeterMinFlowBPH:       30.0,
		MeterMaxFlowBPH:       750.0,
		MeterNoFlowTimeoutSec: 60.0,

		APIThermalExpansionAlpha: 0.00045,
		TempBaseDegF:             60.0,
		TempLoDegF:               20.0,
		TempHiDegF:               150.0,
		TempMaxDeltaF:            2.0,

		InletPressLoPSI:       5.0,
		LoopPressHiPSI:        250.0,
		StrainerDPHiPSI:       15.0,
		OutletPressLoPSI:      5.0,
		BackpressureSalesPSI:  50.0,
		BackpressureDivertPSI: 50.0,

		SampleRateSec:        15.0,
		SampleBarrelsPerGrab: 0.0,
		GrabDurationMS:       500,
		GrabVolumeML:         1.5,

		PumpMaxStartsPerHour: 6,
		PumpLockoutSec:       60.0,
		PumpStartTimeoutSec:  10.0,

		DivertTravelTimeoutSec: 5.0,

		ProveRuns:              5,
		RepeatabilityTolerance: 0.0005,
		ProveCertifiedBarrels:  10.0,
		ProveRunTimeoutSec:     120.0,

		ScanPeriodMS: 100,
		IOTimeoutMS:  50,
	}
}

// field describes one tunable: its key, domain, and accessors.
type field struct {
	min, max float64
	get      func(*Setpoints) float64
	set      func(*Setpoints, float64)
}

var fields = map[string]field{
	"bsw_divert_pct":    {0.1, 5.0, func(s *Setpoints) float64 { return s.BSWDivertPct }, func(s *Setpoints, v float64) { s.BSWDivertPct = v }},
	"bsw_alarm_pct":     {0.1, 5.0, func(s *Setpoints) float64 { return s.BSWAlarmPct }, func(s *Setpoints, v float64) { s.BSWAlarmPct = v }},
	"bsw_debounce_sec":  {0, 60, func(s *Setpoints) float64 { return s.BSWDebounceSec }, func(s *Setpoints, v float64) { s.BSWDebounceSec = v }},
	"bsw_stabilize_sec": {0, 300, func(s *Setpoints) float64 { return s.BSWStabilizeSec }, func(s *Setpoints, v float64) { s.BSWStabilizeSec = v }},

	"meter_k_factor":            {1.0, 10000.0, func(s *Setpoints) float64 { return s.MeterKFactor }, func(s *Setpoints, v float64) { s.MeterKFactor = v }},
	"meter_factor":              {0.9800, 1.0200, func(s *Setpoints) float64 { return s.MeterFactor }, func(s *Setpoints, v float64) { s.MeterFactor = v }},
	"meter_min_flow_bph":        {0, 10000, func(s *Setpoints) float64 { return s.MeterMinFlowBPH }, func(s *Setpoints, v float64) { s.MeterMinFlowBPH = v }},
	"meter_max_flow_bph":        {0, 10000, func(s *Setpoints) float64 { return s.MeterMaxFlowBPH }, func(s *Setpoints, v float64) { s.MeterMaxFlowBPH = v }},
	"meter_no_flow_timeout_sec": {1, 3600, func(s *Setpoints) float64 { return s.MeterNoFlowTimeoutSec }, func(s *Setpoints, v float64) { s.MeterNoFlowTimeoutSec = v }},

	"api_thermal_expansion_alpha": {0.0003, 0.0006, func(s *Setpoints) float64 { return s.APIThermalExpansionAlpha }, func(s *Setpoints, v float64) { s.APIThermalExpansionAlpha = v }},
	"temp_base_deg_f":             {32, 90, func(s *Setpoints) float64 { return s.TempBaseDegF }, func(s *Setpoints, v float64) { s.TempBaseDegF = v }},
	"temp_lo_deg_f":               {-20, 200, func(s *Setpoints) float64 { return s.TempLoDegF }, func(s *Setpoints, v float64) { s.TempLoDegF = v }},
	"temp_hi_deg_f":               {-20, 200, func(s *Setpoints) float64 { return s.TempHiDegF }, func(s *Setpoints, v float64) { s.TempHiDegF = v }},
	"temp_max_delta_f":            {0.1, 20, func(s *Setpoints) float64 { return s.TempMaxDeltaF }, func(s *Setpoints, v float64) { s.TempMaxDeltaF = v }},

	"inlet_press_lo_psi":      {0, 300, func(s *Setpoints) float64 { return s.InletPressLoPSI }, func(s *Setpoints, v float64) { s.InletPressLoPSI = v }},
	"loop_press_hi_psi":       {0, 300, func(s *Setpoints) float64 { return s.LoopPressHiPSI }, func(s *Setpoints, v float64) { s.LoopPressHiPSI = v }},
	"strainer_dp_hi_psi":      {0, 50, func(s *Setpoints) float64 { return s.StrainerDPHiPSI }, func(s *Setpoints, v float64) { s.StrainerDPHiPSI = v }},
	"outlet_press_lo_psi":     {0, 300, func(s *Setpoints) float64 { return s.OutletPressLoPSI }, func(s *Setpoints, v float64) { s.OutletPressLoPSI = v }},
	"backpressure_sales_psi":  {0, 150, func(s *Setpoints) float64 { return s.BackpressureSalesPSI }, func(s *Setpoints, v float64) { s.BackpressureSalesPSI = v }},
	"backpressure_divert_psi": {0, 150, func(s *Setpoints) float64 { return s.BackpressureDivertPSI }, func(s *Setpoints, v float64) { s.BackpressureDivertPSI = v }},

	"sample_rate_sec":         {1, 3600, func(s *Setpoints) float64 { return s.SampleRateSec }, func(s *Setpoints, v float64) { s.SampleRateSec = v }},
	"sample_barrels_per_grab": {0, 1000, func(s *Setpoints) float64 { return s.SampleBarrelsPerGrab }, func(s *Setpoints, v float64) { s.SampleBarrelsPerGrab = v }},
	"grab_duration_ms":        {50, 5000, func(s *Setpoints) float64 { return float64(s.GrabDurationMS) }, func(s *Setpoints, v float64) { s.GrabDurationMS = int(v) }},
	"grab_volume_ml":          {0.1, 100, func(s *Setpoints) float64 { return s.GrabVolumeML }, func(s *Setpoints, v float64) { s.GrabVolumeML = v }},

	"pump_max_starts_per_hour": {1, 30, func(s *Setpoints) float64 { return float64(s.PumpMaxStartsPerHour) }, func(s *Setpoints, v float64) { s.PumpMaxStartsPerHour = int(v) }},
	"pump_lockout_sec":         {0, 3600, func(s *Setpoints) float64 { return s.PumpLockoutSec }, func(s *Setpoints, v float64) { s.PumpLockoutSec = v }},
	"pump_start_timeout_sec":   {1, 120, func(s *Setpoints) float64 { return s.PumpStartTimeoutSec }, func(s *Setpoints, v float64) { s.PumpStartTimeoutSec = v }},

	"divert_travel_timeout_sec": {1, 120, func(s *Setpoints) float64 { return s.DivertTravelTimeoutSec }, func(s *Setpoints, v float64) { s.DivertTravelTimeoutSec = v }},

	"prove_runs":              {1, 10, func(s *Setpoints) float64 { return float64(s.ProveRuns) }, func(s *Setpoints, v float64) { s.ProveRuns = int(v) }},
	"repeatability_tolerance": {0.0001, 0.01, func(s *Setpoints) float64 { return s.RepeatabilityTolerance }, func(s *Setpoints, v float64) { s.RepeatabilityTolerance = v }},
	"prove_certified_barrels": {0.1, 1000, func(s *Setpoints) float64 { return s.ProveCertifiedBarrels }, func(s *Setpoints, v float64) { s.ProveCertifiedBarrels = v }},
	"prove_run_timeout_sec":   {10, 3600, func(s *Setpoints) float64 { return s.ProveRunTimeoutSec }, func(s *Setpoints, v float64) { s.ProveRunTimeoutSec = v }},

	"scan_period_ms": {10, 1000, func(s *Setpoints) float64 { return float64(s.ScanPeriodMS) }, func(s *Setpoints, v float64) { s.ScanPeriodMS = int(v) }},
	"io_timeout_ms":  {10, 1000, func(s *Setpoints) float64 { return float64(s.IOTimeoutMS) }, func(s *Setpoints, v float64) { s.IOTimeoutMS = int(v) }},
}

// Validate checks every field against its declared domain.
func (s *Setpoints) Validate() error {
	for key, f := range fields {
		v := f.get(s)
		if v < f.min || v > f.max {
			return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrInvalidSetpoint, key, v, f.min, f.max)
		}
	}
	return nil
}

// Get returns a setpoint by key.
func (s *Setpoints) Get(key string) (float64, error) {
	f, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: unknown key %q", ErrInvalidSetpoint, key)
	}
	return f.get(s), nil
}

// Keys lists the recognized setpoint keys, sorted.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AsMap flattens the snapshot to key/value pairs for the console.
func (s *Setpoints) AsMap() map[string]float64 {
	out := make(map[string]float64, len(fields))
	for k, f := range fields {
		out[k] = f.get(s)
	}
	return out
}

// Patch is a partial setpoint update keyed by recognized field name.
type Patch map[string]float64

// SetpointStore holds the current snapshot and swaps it atomically.
// Readers call Current and get a value copy good for a whole scan;
// the console thread calls Apply without disturbing in-flight reads.
type SetpointStore struct {
	applyMu sync.Mutex
	v       atomic.Value // Setpoints
}

// NewSetpointStore creates a store seeded with the given snapshot.
func NewSetpointStore(sp Setpoints) (*SetpointStore, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	st := &SetpointStore{}
	st.v.Store(sp)
	return st, nil
}

// Current returns the active snapshot by value.
func (st *SetpointStore) Current() Setpoints {
	return st.v.Load().(Setpoints)
}

// Apply validates every patched field and installs the new snapshot
// atomically. On any invalid value the snapshot is left unchanged.
func (st *SetpointStore) Apply(p Patch) error {
	st.applyMu.Lock()
	defer st.applyMu.Unlock()

	next := st.Current()
	for key, v := range p {
		f, ok := fields[key]
		if !ok {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidSetpoint, key)
		}
		if v < f.min || v > f.max {
			return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrInvalidSetpoint, key, v, f.min, f.max)
		}
		f.set(&next, v)
	}
	st.v.Store(next)
	return nil
}
