package process

import (
	"lactlink/tags"
)

// Divert valve position labels published for the console.
const (
	PosSales           = "SALES"
	PosDivert          = "DIVERT"
	PosTransitToSales  = "TRANSIT_TO_SALES"
	PosTransitToDivert = "TRANSIT_TO_DIVERT"
	PosFault           = "FAULT_BOTH_LIMITS"
)

// Divert tracks the divert valve: position from the two limit
// switches, and a travel fault when a commanded move is not confirmed
// within the travel timeout. The safety manager converts the fault
// into a shutdown request.
type Divert struct {
	lastCmd   bool
	primed    bool
	cmdScan   uint64
	faultBoth bool
}

// NewDivert creates the divert valve monitor.
func NewDivert() *Divert {
	return &Divert{}
}

func (d *Divert) Name() string { return "divert" }

func (d *Divert) Execute(env Env) error {
	st := env.Store

	cmd, _ := st.Bool(tags.DODivertCmd)
	atSales, _ := st.Bool(tags.DIDivertSales)
	atDivert, _ := st.Bool(tags.DIDivertDivert)

	if !d.primed || cmd != d.lastCmd {
		d.cmdScan = env.Scan
		d.lastCmd = cmd
		d.primed = true
	}

	pos := PosTransitToSales
	confirmed := false
	switch {
	case atSales && atDivert:
		pos = PosFault
		if !d.faultBoth {
			env.logf("[divert] both limit switches active")
			d.faultBoth = true
		}
	case cmd && atDivert:
		pos = PosDivert
		confirmed = true
	case cmd:
		pos = PosTransitToDivert
	case atSales:
		pos = PosSales
		confirmed = true
	}
	if pos != PosFault {
		d.faultBoth = false
	}

	travelFault := !confirmed &&
		env.Scan-d.cmdScan > env.scansFor(env.SP.DivertTravelTimeoutSec)

	st.WriteAny(tags.DivertValvePos, pos)
	st.WriteAny(tags.DivertFault, travelFault || pos == PosFault)
	return nil
}
