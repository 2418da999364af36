package statemach_test

import (
	"testing"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/ioport"
	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

type fixture struct {
	m     *statemach.Machine
	store *tagstore.Store
	ann   *alarm.Annunciator
	sp    config.Setpoints
	scan  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := tagstore.New()
	if err := ioport.DeclareTags(store); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		m:     statemach.New(store),
		store: store,
		ann:   alarm.New(),
		sp:    config.DefaultSetpoints(),
	}
}

func (f *fixture) step(req alarm.Requests) {
	f.scan++
	f.m.Step(statemach.Env{
		Store:    f.store,
		SP:       f.sp,
		Requests: req,
		Ann:      f.ann,
		Scan:     f.scan,
	})
}

// steps runs n scans with the same requests.
func (f *fixture) steps(n int, req alarm.Requests) {
	for i := 0; i < n; i++ {
		f.step(req)
	}
}

func (f *fixture) bool(t *testing.T, tag string) bool {
	t.Helper()
	v, err := f.store.Bool(tag)
	if err != nil {
		t.Fatalf("read %s: %v", tag, err)
	}
	return v
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		s        statemach.State
		expected string
	}{
		{statemach.Idle, "IDLE"},
		{statemach.Startup, "STARTUP"},
		{statemach.Running, "RUNNING"},
		{statemach.Divert, "DIVERT"},
		{statemach.Proving, "PROVING"},
		{statemach.Shutdown, "SHUTDOWN"},
		{statemach.EStop, "ESTOP"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.expected {
			t.Errorf("State(%d).String() = %q, want %q", tc.s, got, tc.expected)
		}
	}
}

func TestIdleOutputsSafe(t *testing.T) {
	f := newFixture(t)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle", f.m.State())
	}
	if f.bool(t, tags.DOPumpStart) {
		t.Error("pump commanded in Idle")
	}
	if !f.bool(t, tags.DODivertCmd) {
		t.Error("Idle must hold divert (fail-safe)")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	f := newFixture(t)
	f.m.Request(statemach.Proving) // Idle -> Proving is not in the table
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state changed on illegal request: %v", f.m.State())
	}
	if !f.ann.IsActive(alarm.AlmIllegalCmd) {
		t.Error("illegal command should raise an Info alarm")
	}
}

func TestStartupHappyPath(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.store.WriteAny(tags.BSWPct, 0.3)

	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Startup {
		t.Fatalf("state = %v, want Startup", f.m.State())
	}

	// Valve precheck passes, divert commanded.
	f.step(alarm.Requests{})
	if !f.bool(t, tags.DODivertCmd) {
		t.Fatal("startup must begin in the divert position")
	}

	// Confirm divert, expect pump start.
	f.store.WriteBool(tags.DIDivertDivert, true)
	f.steps(3, alarm.Requests{})
	if !f.bool(t, tags.DOPumpStart) {
		t.Fatal("pump not commanded after divert confirm")
	}

	// Confirm pump, wait out stabilization, expect swing to SALES.
	f.store.WriteBool(tags.DIPumpRunning, true)
	stabilize := int(f.sp.BSWStabilizeSec*1000/float64(f.sp.ScanPeriodMS)) + 5
	f.steps(stabilize, alarm.Requests{})
	if f.bool(t, tags.DODivertCmd) {
		t.Fatal("divert still commanded after clean BS&W stabilization")
	}

	// Confirm SALES, expect Running.
	f.store.WriteBool(tags.DIDivertDivert, false)
	f.store.WriteBool(tags.DIDivertSales, true)
	f.steps(2, alarm.Requests{})
	if f.m.State() != statemach.Running {
		t.Fatalf("state = %v, want Running", f.m.State())
	}
	if !f.bool(t, tags.DOStatusGreen) {
		t.Error("status green off in Running")
	}
}

func TestStartupDirtyBSWEntersDivert(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.store.WriteAny(tags.BSWPct, 2.5)
	f.store.WriteBool(tags.DIDivertDivert, true)

	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{})
	f.store.WriteBool(tags.DIPumpRunning, true)
	// The safety manager holds the divert request while BS&W is high.
	f.steps(int(f.sp.BSWStabilizeSec*1000/float64(f.sp.ScanPeriodMS))+10, alarm.Requests{Divert: true})

	if f.m.State() != statemach.Divert {
		t.Fatalf("state = %v, want Divert with dirty BS&W", f.m.State())
	}
	if !f.bool(t, tags.DODivertCmd) {
		t.Error("divert not commanded in Divert state")
	}
}

func TestStartupAbortsWithoutValves(t *testing.T) {
	f := newFixture(t)
	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{}) // valve precheck fails on the entry scan
	f.step(alarm.Requests{}) // unit stays in Idle
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle after failed precheck", f.m.State())
	}
}

func TestStartupPumpTimeout(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.store.WriteBool(tags.DIDivertDivert, true)

	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{})
	// Never confirm the pump; the timeout must abort to Idle.
	f.steps(int(f.sp.PumpStartTimeoutSec*1000/float64(f.sp.ScanPeriodMS))+10, alarm.Requests{})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle after pump start timeout", f.m.State())
	}
	if f.bool(t, tags.DOPumpStart) {
		t.Error("pump still commanded after aborted startup")
	}
}

func toRunning(t *testing.T, f *fixture) {
	t.Helper()
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.store.WriteBool(tags.DIDivertDivert, true)
	f.store.WriteBool(tags.DIPumpRunning, true)
	f.store.WriteAny(tags.BSWPct, 0.3)
	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{})
	f.steps(int(f.sp.BSWStabilizeSec*1000/float64(f.sp.ScanPeriodMS))+5, alarm.Requests{})
	f.store.WriteBool(tags.DIDivertDivert, false)
	f.store.WriteBool(tags.DIDivertSales, true)
	f.steps(2, alarm.Requests{})
	if f.m.State() != statemach.Running {
		t.Fatalf("fixture failed to reach Running: %v", f.m.State())
	}
}

func TestDivertAndRecover(t *testing.T) {
	f := newFixture(t)
	toRunning(t, f)

	f.step(alarm.Requests{Divert: true})
	if f.m.State() != statemach.Divert {
		t.Fatalf("state = %v, want Divert", f.m.State())
	}
	if !f.bool(t, tags.DODivertCmd) {
		t.Error("divert output not held")
	}

	// Request held: stays in Divert.
	f.steps(5, alarm.Requests{Divert: true})
	if f.m.State() != statemach.Divert {
		t.Fatal("left Divert while request held")
	}

	// Request dropped: back to Running and SALES.
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Running {
		t.Fatalf("state = %v, want Running after recovery", f.m.State())
	}
	if f.bool(t, tags.DODivertCmd) {
		t.Error("divert output still held after recovery")
	}
}

func TestShutdownSequence(t *testing.T) {
	f := newFixture(t)
	toRunning(t, f)

	f.step(alarm.Requests{Shutdown: true})
	if f.m.State() != statemach.Shutdown {
		t.Fatalf("state = %v, want Shutdown", f.m.State())
	}
	f.step(alarm.Requests{})
	if f.bool(t, tags.DOPumpStart) {
		t.Error("pump still commanded in Shutdown")
	}
	if !f.bool(t, tags.DODivertCmd) {
		t.Error("divert not commanded in Shutdown")
	}

	f.store.WriteBool(tags.DIPumpRunning, false)
	f.steps(2, alarm.Requests{})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle after pump stop confirm", f.m.State())
	}
}

func TestEStopSupremacy(t *testing.T) {
	states := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{"from Idle", func(t *testing.T, f *fixture) {}},
		{"from Running", func(t *testing.T, f *fixture) { toRunning(t, f) }},
		{"from Divert", func(t *testing.T, f *fixture) {
			toRunning(t, f)
			f.step(alarm.Requests{Divert: true})
		}},
	}
	for _, tc := range states {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(t, f)
			f.step(alarm.Requests{EStop: true})
			if f.m.State() != statemach.EStop {
				t.Fatalf("state = %v, want EStop", f.m.State())
			}
			for _, tag := range []string{tags.DOPumpStart, tags.DOSampleSol, tags.DOProverVlvCmd} {
				if f.bool(t, tag) {
					t.Errorf("%s energized in EStop", tag)
				}
			}
			if !f.bool(t, tags.DODivertCmd) {
				t.Error("divert not commanded in EStop")
			}
			if !f.bool(t, tags.DOAlarmBeacon) || !f.bool(t, tags.DOAlarmHorn) {
				t.Error("beacon/horn not driven on EStop entry")
			}
		})
	}
}

func TestEStopResetRequiresClearedInput(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIEStop, true)
	f.step(alarm.Requests{EStop: true})
	if f.m.State() != statemach.EStop {
		t.Fatal("not in EStop")
	}

	// Reset while the button is still in: rejected.
	f.m.Request(statemach.Idle)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.EStop {
		t.Fatal("left EStop with input still asserted")
	}

	// Release, then reset.
	f.store.WriteBool(tags.DIEStop, false)
	f.m.Request(statemach.Idle)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle after reset", f.m.State())
	}
}

func TestShutdownDuringStartupAborts(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.m.Request(statemach.Startup)
	f.step(alarm.Requests{})
	f.step(alarm.Requests{Shutdown: true})
	if f.m.State() != statemach.Idle {
		t.Fatalf("state = %v, want Idle when shutdown demanded during startup", f.m.State())
	}
}

func TestProvingReturnsToRunning(t *testing.T) {
	f := newFixture(t)
	toRunning(t, f)
	f.store.WriteAny(tags.ProveActive, true)
	f.m.Request(statemach.Proving)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Proving {
		t.Fatalf("state = %v, want Proving", f.m.State())
	}

	f.steps(3, alarm.Requests{})
	if f.m.State() != statemach.Proving {
		t.Fatal("left Proving while active")
	}

	f.store.WriteAny(tags.ProveActive, false)
	f.step(alarm.Requests{})
	if f.m.State() != statemach.Running {
		t.Fatalf("state = %v, want Running after prove completion", f.m.State())
	}
}
