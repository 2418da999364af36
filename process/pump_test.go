package process

import (
	"testing"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

type pumpFixture struct {
	store *tagstore.Store
	pump  *Pump
	ann   *alarm.Annunciator
	sp    config.Setpoints
	scan  uint64
}

func newPumpFixture(t *testing.T) *pumpFixture {
	t.Helper()
	return &pumpFixture{
		store: newStore(t),
		pump:  NewPump(),
		ann:   alarm.New(),
		sp:    config.DefaultSetpoints(),
	}
}

func (f *pumpFixture) exec(t *testing.T) {
	t.Helper()
	f.scan++
	env := Env{Store: f.store, SP: f.sp, State: statemach.Running, Scan: f.scan, Ann: f.ann}
	if err := f.pump.Execute(env); err != nil {
		t.Fatal(err)
	}
}

// cycle issues one rising edge of the pump command.
func (f *pumpFixture) cycle(t *testing.T) {
	t.Helper()
	f.store.WriteBool(tags.DOPumpStart, true)
	f.exec(t)
	f.store.WriteBool(tags.DOPumpStart, false)
	f.exec(t)
}

func TestStartsPerHourLimit(t *testing.T) {
	f := newPumpFixture(t)

	for i := 0; i < f.sp.PumpMaxStartsPerHour; i++ {
		f.cycle(t)
	}
	if !f.pump.StartPermitted(f.scan, f.sp) {
		// Exactly at the limit: the budget is spent.
	} else {
		t.Fatal("budget not spent after max starts")
	}

	// One more attempt is vetoed at the output.
	f.store.WriteBool(tags.DOPumpStart, true)
	f.exec(t)
	if v, _ := f.store.Bool(tags.DOPumpStart); v {
		t.Fatal("start beyond budget reached the output")
	}
	if !f.ann.IsActive(alarm.AlmPumpMaxStarts) {
		t.Error("max-starts alarm not raised")
	}
}

func TestStartBudgetSlides(t *testing.T) {
	f := newPumpFixture(t)
	for i := 0; i < f.sp.PumpMaxStartsPerHour; i++ {
		f.cycle(t)
	}
	if f.pump.StartPermitted(f.scan, f.sp) {
		t.Fatal("budget should be spent")
	}

	// An hour later the window has slid past the old starts.
	f.scan += uint64(3600*1000/f.sp.ScanPeriodMS) + 1
	if !f.pump.StartPermitted(f.scan, f.sp) {
		t.Fatal("budget not restored after the window slid")
	}
}

func TestOverloadLockout(t *testing.T) {
	f := newPumpFixture(t)

	f.store.WriteBool(tags.DOPumpStart, true)
	f.exec(t)

	f.store.WriteBool(tags.DIPumpOverload, true)
	f.exec(t)
	if v, _ := f.store.Bool(tags.DOPumpStart); v {
		t.Fatal("pump output not forced off on overload")
	}
	if !f.pump.LockedOut(f.scan) {
		t.Fatal("lockout not armed on overload")
	}
	if f.pump.StartPermitted(f.scan, f.sp) {
		t.Fatal("start permitted during lockout")
	}

	// Start attempts during lockout are denied even with the
	// overload cleared.
	f.store.WriteBool(tags.DIPumpOverload, false)
	f.store.WriteBool(tags.DOPumpStart, true)
	f.exec(t)
	if v, _ := f.store.Bool(tags.DOPumpStart); v {
		t.Fatal("start honored during lockout")
	}
	if !f.ann.IsActive(alarm.AlmPumpLockout) {
		t.Error("lockout denial alarm not raised")
	}

	// After the lockout window the start goes through.
	f.scan += uint64(f.sp.PumpLockoutSec*1000/float64(f.sp.ScanPeriodMS)) + 1
	f.store.WriteBool(tags.DOPumpStart, true)
	f.exec(t)
	if v, _ := f.store.Bool(tags.DOPumpStart); !v {
		t.Fatal("start denied after lockout expired")
	}
}

func TestFailToStartAnnunciates(t *testing.T) {
	f := newPumpFixture(t)
	f.store.WriteBool(tags.DOPumpStart, true)
	// Never raise DI_PUMP_RUNNING.
	for i := 0; i < int(f.sp.PumpStartTimeoutSec*1000/float64(f.sp.ScanPeriodMS))+2; i++ {
		f.exec(t)
	}
	if !f.ann.IsActive(alarm.AlmPumpFailStart) {
		t.Fatal("fail-to-start alarm not raised after timeout")
	}

	f.store.WriteBool(tags.DIPumpRunning, true)
	f.exec(t)
	if f.ann.IsActive(alarm.AlmPumpFailStart) {
		t.Error("fail-to-start alarm not cleared once running")
	}
}
