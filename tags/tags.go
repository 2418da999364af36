// Package tags defines the canonical tag namespace for the LACT unit.
// Every tag touched by the control logic is declared here so that a
// typo fails at startup rather than silently reading a default.
package tags

// Digital inputs.
const (
	DIInletVlvOpen   = "DI_INLET_VLV_OPEN"
	DIInletVlvClosed = "DI_INLET_VLV_CLOSED"
	DIStrainerHiDP   = "DI_STRAINER_HI_DP"
	DIPumpRunning    = "DI_PUMP_RUNNING"
	DIPumpOverload   = "DI_PUMP_OVERLOAD"
	DIDivertSales    = "DI_DIVERT_SALES"
	DIDivertDivert   = "DI_DIVERT_DIVERT"
	DISamplePotHi    = "DI_SAMPLE_POT_HI"
	DISamplePotLo    = "DI_SAMPLE_POT_LO"
	DIProverVlvOpen  = "DI_PROVER_VLV_OPEN"
	DIAirElimFloat   = "DI_AIR_ELIM_FLOAT"
	DIOutletVlvOpen  = "DI_OUTLET_VLV_OPEN"
	DIEStop          = "DI_ESTOP"
)

// Digital outputs. DO_DIVERT_CMD is false=SALES, true=DIVERT.
const (
	DOPumpStart     = "DO_PUMP_START"
	DODivertCmd     = "DO_DIVERT_CMD"
	DOSampleSol     = "DO_SAMPLE_SOL"
	DOSampleMixPump = "DO_SAMPLE_MIX_PUMP"
	DOProverVlvCmd  = "DO_PROVER_VLV_CMD"
	DOAlarmBeacon   = "DO_ALARM_BEACON"
	DOAlarmHorn     = "DO_ALARM_HORN"
	DOStatusGreen   = "DO_STATUS_GREEN"
)

// Analog inputs (engineering units).
const (
	AIInletPress  = "AI_INLET_PRESS"   // 0-300 PSI
	AILoopHiPress = "AI_LOOP_HI_PRESS" // 0-300 PSI
	AIStrainerDP  = "AI_STRAINER_DP"   // 0-50 PSI
	AIBSWProbe    = "AI_BSW_PROBE"     // 0-5 %
	AIMeterTemp   = "AI_METER_TEMP"    // -20-200 F
	AITestThermo  = "AI_TEST_THERMO"   // -20-200 F
	AIOutletPress = "AI_OUTLET_PRESS"  // 0-300 PSI
)

// Pulse inputs.
const (
	PIMeterPulse = "PI_METER_PULSE"
)

// Analog outputs.
const (
	AOBPSalesSP  = "AO_BP_SALES_SP"  // 0-150 PSI
	AOBPDivertSP = "AO_BP_DIVERT_SP" // 0-150 PSI
)

// Virtual tags computed by the process modules each scan.
const (
	FlowRateBPH     = "FLOW_RATE_BPH"
	FlowNetDeltaBBL = "FLOW_NET_DELTA_BBL"
	FlowTotalBBL    = "FLOW_TOTAL_BBL"
	FlowNetBBL      = "FLOW_NET_BBL"
	BatchGrossBBL   = "BATCH_GROSS_BBL"
	BatchNetBBL     = "BATCH_NET_BBL"
	BatchDivertBBL  = "BATCH_DIVERT_BBL"
	BSWPct          = "BSW_PCT"
	CTLFactor       = "CTL_FACTOR"
	MeterFactor     = "METER_FACTOR"
	SampleGrabs     = "SAMPLE_TOTAL_GRABS"
	SampleTotalML   = "SAMPLE_TOTAL_ML"
	DivertValvePos  = "DIVERT_VALVE_POS"
	DivertFault     = "DIVERT_TRAVEL_FAULT"
	ProveActive     = "PROVE_ACTIVE"
	ProveReturn     = "PROVE_RETURN"
	ProveRunCount   = "PROVE_RUN_COUNT"
	LACTState       = "LACT_STATE"
	PrevState       = "PREV_STATE"
	DivertReason    = "DIVERT_REASON"
	TempCorrected   = "TEMP_CORRECTED_F"
	AlarmActive     = "ALARM_ACTIVE_COUNT"
	AlarmUnacked    = "ALARM_UNACK_COUNT"
)
