package safety_test

import (
	"testing"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/ioport"
	"lactlink/safety"
	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

type fixture struct {
	mgr   *safety.Manager
	ann   *alarm.Annunciator
	store *tagstore.Store
	sp    config.Setpoints
	state statemach.State
	scan  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := tagstore.New()
	if err := ioport.DeclareTags(store); err != nil {
		t.Fatal(err)
	}
	ann := alarm.New()
	// Healthy baseline so unrelated checks stay quiet.
	store.WriteFloat(tags.AIInletPress, 45)
	store.WriteFloat(tags.AIMeterTemp, 80)
	store.WriteFloat(tags.AITestThermo, 80)
	store.WriteFloat(tags.AIBSWProbe, 0.3)
	store.WriteAny(tags.BSWPct, 0.3)
	return &fixture{
		mgr:   safety.NewManager(ann),
		ann:   ann,
		store: store,
		sp:    config.DefaultSetpoints(),
		state: statemach.Idle,
	}
}

// evaluate runs n scans, emulating the controller's BeginScan per
// scan, and returns the requests from the final scan.
func (f *fixture) evaluate(n int) alarm.Requests {
	var r alarm.Requests
	for i := 0; i < n; i++ {
		f.scan++
		f.ann.BeginScan()
		f.mgr.Evaluate(safety.Env{Store: f.store, SP: f.sp, State: f.state, Scan: f.scan})
		r = f.ann.Requests()
	}
	return r
}

func TestEStopNoDebounce(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIEStop, true)
	r := f.evaluate(1)
	if !r.EStop {
		t.Fatal("E-stop must request within one scan")
	}
	if !f.ann.IsActive(alarm.AlmEStop) {
		t.Fatal("E-stop alarm not raised")
	}
}

func TestPumpOverloadNoDebounce(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIPumpOverload, true)
	r := f.evaluate(1)
	if !r.Shutdown {
		t.Fatal("overload must request shutdown within one scan")
	}
}

func TestEStopDominatesShutdown(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIEStop, true)
	f.store.WriteBool(tags.DIPumpOverload, true)
	r := f.evaluate(1)
	if !r.EStop || r.Shutdown || r.Divert {
		t.Fatalf("expected EStop alone, got %+v", r)
	}
}

func TestValveChecksOnlyInStartupRunning(t *testing.T) {
	f := newFixture(t)
	// Valves closed but unit Idle: no alarm.
	if r := f.evaluate(5); r.Any() {
		t.Fatal("valve check fired in Idle")
	}

	f.state = statemach.Running
	r := f.evaluate(1)
	if r.Any() {
		t.Fatal("valve check fired before its 2-scan debounce")
	}
	r = f.evaluate(1)
	if !r.Shutdown {
		t.Fatal("closed inlet valve in Running must shut down after 2 scans")
	}
}

func TestInletPressureDebounce(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIInletVlvOpen, true)
	f.store.WriteBool(tags.DIOutletVlvOpen, true)
	f.store.WriteBool(tags.DIPumpRunning, true)
	f.store.WriteFloat(tags.AIInletPress, 2.0)

	if r := f.evaluate(9); r.Any() {
		t.Fatal("inlet pressure tripped before 10 scans")
	}
	if r := f.evaluate(1); !r.Shutdown {
		t.Fatal("inlet pressure low must shut down after 10 scans")
	}

	// Recovery needs the same sustained clear.
	f.store.WriteFloat(tags.AIInletPress, 45)
	f.evaluate(9)
	if !f.ann.IsActive(alarm.AlmInletPressLo) {
		t.Fatal("alarm cleared before off-debounce elapsed")
	}
	f.evaluate(1)
	// The alarm is critical shutdown and latches; the check itself
	// must have released its hold.
	if f.mgrTripped(alarm.AlmInletPressLo) {
		t.Fatal("check still tripped after sustained recovery")
	}
}

func (f *fixture) mgrTripped(id string) bool { return f.mgr.Tripped(id) }

func TestBSWDivertUsesRollingMeanAndSetpointDebounce(t *testing.T) {
	f := newFixture(t)
	f.sp.BSWDebounceSec = 1.0 // 10 scans at 100 ms
	f.store.WriteAny(tags.BSWPct, 1.5)

	if r := f.evaluate(9); r.Divert {
		t.Fatal("BS&W divert before debounce")
	}
	if r := f.evaluate(1); !r.Divert {
		t.Fatal("BS&W above setpoint must request divert after debounce")
	}

	// Mean recovers: request drops after the same debounce.
	f.store.WriteAny(tags.BSWPct, 0.4)
	f.evaluate(10)
	if r := f.evaluate(1); r.Divert {
		t.Fatal("divert request still asserted after recovery")
	}
}

func TestBSWProbeFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetQuality(tags.AIBSWProbe, tagstore.QualityBad)
	if r := f.evaluate(3); !r.Divert {
		t.Fatal("bad probe quality must request divert after 3 scans")
	}
	if !f.ann.IsActive(alarm.AlmBSWProbeFail) {
		t.Fatal("probe failure alarm not raised")
	}
}

func TestStrainerWarnIsNotARequest(t *testing.T) {
	f := newFixture(t)
	f.store.WriteFloat(tags.AIStrainerDP, 30)
	r := f.evaluate(6)
	if r.Any() {
		t.Fatalf("strainer warn must not produce a request: %+v", r)
	}
	if !f.ann.IsActive(alarm.AlmStrainerDPHi) {
		t.Fatal("strainer alarm not raised")
	}
}

func TestDivertTravelFault(t *testing.T) {
	f := newFixture(t)
	f.store.WriteAny(tags.DivertFault, true)
	if r := f.evaluate(1); !r.Shutdown {
		t.Fatal("divert travel fault must request shutdown")
	}
}

func TestTemperatureWarnDebounce(t *testing.T) {
	f := newFixture(t)
	f.store.WriteFloat(tags.AIMeterTemp, 180)
	f.store.WriteFloat(tags.AITestThermo, 180)
	f.evaluate(9)
	if f.ann.IsActive(alarm.AlmTempHi) {
		t.Fatal("temp high before 10 scans")
	}
	r := f.evaluate(1)
	if !f.ann.IsActive(alarm.AlmTempHi) {
		t.Fatal("temp high not raised after 10 scans")
	}
	if r.Any() {
		t.Fatal("temp high is warn-only")
	}
}

func TestRequestsReassertWhileActive(t *testing.T) {
	f := newFixture(t)
	f.store.WriteBool(tags.DIPumpOverload, true)
	f.evaluate(1)
	// Subsequent scans must keep demanding the shutdown.
	for i := 0; i < 5; i++ {
		if r := f.evaluate(1); !r.Shutdown {
			t.Fatalf("request dropped on scan %d while condition held", i)
		}
	}
}
