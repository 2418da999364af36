// Package ioport defines the boundary between the control core and
// the physical I/O: the Port interface both the fieldbus client and
// the hardware simulator satisfy, the register map for the unit's
// Modbus-compatible I/O modules, and the analog scaling helpers.
package ioport

import (
	"lactlink/tags"
	"lactlink/tagstore"
)

// Port moves the process image across the field boundary. ReadInputs
// populates every DI, AI, and PI tag; WriteOutputs pushes every DO
// and AO tag. Implementations must bound each call with their own
// timeout; the scan thread performs I/O only through these two calls.
type Port interface {
	ReadInputs(store *tagstore.Store) error
	WriteOutputs(store *tagstore.Store) error
	Close() error
}

// Register layout for the I/O expansion modules.
const (
	RegDIBase      = 0   // discrete inputs 0-12
	RegCoilBase    = 100 // coils 100-107
	RegInputBase   = 200 // input registers 200-206
	RegPulse       = 300 // pulse counter, 32-bit across 300/301
	RegHoldingBase = 400 // holding registers 400-401
	RawMax         = 4095
)

// Point maps one tag to its field register and engineering range.
type Point struct {
	Tag    string
	Reg    uint16
	Lo, Hi float64
}

// DigitalInputs lists the discrete inputs in register order.
func DigitalInputs() []Point {
	return []Point{
		{Tag: tags.DIInletVlvOpen, Reg: RegDIBase + 0},
		{Tag: tags.DIInletVlvClosed, Reg: RegDIBase + 1},
		{Tag: tags.DIStrainerHiDP, Reg: RegDIBase + 2},
		{Tag: tags.DIPumpRunning, Reg: RegDIBase + 3},
		{Tag: tags.DIPumpOverload, Reg: RegDIBase + 4},
		{Tag: tags.DIDivertSales, Reg: RegDIBase + 5},
		{Tag: tags.DIDivertDivert, Reg: RegDIBase + 6},
		{Tag: tags.DISamplePotHi, Reg: RegDIBase + 7},
		{Tag: tags.DISamplePotLo, Reg: RegDIBase + 8},
		{Tag: tags.DIProverVlvOpen, Reg: RegDIBase + 9},
		{Tag: tags.DIAirElimFloat, Reg: RegDIBase + 10},
		{Tag: tags.DIOutletVlvOpen, Reg: RegDIBase + 11},
		{Tag: tags.DIEStop, Reg: RegDIBase + 12},
	}
}

// DigitalOutputs lists the coils in register order.
func DigitalOutputs() []Point {
	return []Point{
		{Tag: tags.DOPumpStart, Reg: RegCoilBase + 0},
		{Tag: tags.DODivertCmd, Reg: RegCoilBase + 1},
		{Tag: tags.DOSampleSol, Reg: RegCoilBase + 2},
		{Tag: tags.DOSampleMixPump, Reg: RegCoilBase + 3},
		{Tag: tags.DOProverVlvCmd, Reg: RegCoilBase + 4},
		{Tag: tags.DOAlarmBeacon, Reg: RegCoilBase + 5},
		{Tag: tags.DOAlarmHorn, Reg: RegCoilBase + 6},
		{Tag: tags.DOStatusGreen, Reg: RegCoilBase + 7},
	}
}

// AnalogInputs lists the input registers with engineering ranges.
func AnalogInputs() []Point {
	return []Point{
		{Tag: tags.AIInletPress, Reg: RegInputBase + 0, Lo: 0, Hi: 300},
		{Tag: tags.AILoopHiPress, Reg: RegInputBase + 1, Lo: 0, Hi: 300},
		{Tag: tags.AIStrainerDP, Reg: RegInputBase + 2, Lo: 0, Hi: 50},
		{Tag: tags.AIBSWProbe, Reg: RegInputBase + 3, Lo: 0, Hi: 5},
		{Tag: tags.AIMeterTemp, Reg: RegInputBase + 4, Lo: -20, Hi: 200},
		{Tag: tags.AITestThermo, Reg: RegInputBase + 5, Lo: -20, Hi: 200},
		{Tag: tags.AIOutletPress, Reg: RegInputBase + 6, Lo: 0, Hi: 300},
	}
}

// AnalogOutputs lists the holding registers with engineering ranges.
func AnalogOutputs() []Point {
	return []Point{
		{Tag: tags.AOBPSalesSP, Reg: RegHoldingBase + 0, Lo: 0, Hi: 150},
		{Tag: tags.AOBPDivertSP, Reg: RegHoldingBase + 1, Lo: 0, Hi: 150},
	}
}

// ScaleAnalog converts a raw 0-4095 count to engineering units by
// linear interpolation over [lo, hi].
func ScaleAnalog(raw uint16, lo, hi float64) float64 {
	return lo + float64(raw)/RawMax*(hi-lo)
}

// UnscaleAnalog converts engineering units back to a raw count,
// saturating at the ends of the range.
func UnscaleAnalog(v, lo, hi float64) uint16 {
	if hi == lo {
		return 0
	}
	p := (v - lo) / (hi - lo)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return uint16(p*RawMax + 0.5)
}

// DeclareTags declares the full process image: every field point plus
// the virtual tags the process modules publish. Called once at
// startup; any failure is a configuration error that aborts.
func DeclareTags(store *tagstore.Store) error {
	for _, p := range DigitalInputs() {
		if err := store.Declare(p.Tag, tagstore.KindDI, false); err != nil {
			return err
		}
	}
	for _, p := range DigitalOutputs() {
		if err := store.Declare(p.Tag, tagstore.KindDO, false); err != nil {
			return err
		}
	}
	for _, p := range AnalogInputs() {
		if err := store.DeclareRanged(p.Tag, tagstore.KindAI, p.Lo, p.Lo, p.Hi); err != nil {
			return err
		}
	}
	for _, p := range AnalogOutputs() {
		if err := store.DeclareRanged(p.Tag, tagstore.KindAO, p.Lo, p.Lo, p.Hi); err != nil {
			return err
		}
	}
	if err := store.Declare(tags.PIMeterPulse, tagstore.KindPI, uint64(0)); err != nil {
		return err
	}

	virtuals := []struct {
		name string
		init interface{}
	}{
		{tags.FlowRateBPH, 0.0},
		{tags.FlowNetDeltaBBL, 0.0},
		{tags.FlowTotalBBL, 0.0},
		{tags.FlowNetBBL, 0.0},
		{tags.BatchGrossBBL, 0.0},
		{tags.BatchNetBBL, 0.0},
		{tags.BatchDivertBBL, 0.0},
		{tags.BSWPct, 0.0},
		{tags.CTLFactor, 1.0},
		{tags.MeterFactor, 1.0},
		{tags.SampleGrabs, 0},
		{tags.SampleTotalML, 0.0},
		{tags.DivertValvePos, PosUnknown},
		{tags.DivertFault, false},
		{tags.ProveActive, false},
		{tags.ProveReturn, false},
		{tags.ProveRunCount, 0},
		{tags.LACTState, "IDLE"},
		{tags.PrevState, "IDLE"},
		{tags.DivertReason, ""},
		{tags.TempCorrected, 60.0},
		{tags.AlarmActive, 0},
		{tags.AlarmUnacked, 0},
	}
	for _, v := range virtuals {
		if err := store.Declare(v.name, tagstore.KindVirtual, v.init); err != nil {
			return err
		}
	}
	return nil
}

// PosUnknown is the divert position before the first scan resolves it.
const PosUnknown = "UNKNOWN"
