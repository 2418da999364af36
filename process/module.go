// Package process implements the per-scan process logic modules:
// flow totalization with temperature correction, BS&W monitoring,
// flow-proportional sampling, pump protection, meter proving, and
// pressure/temperature supervision. Modules never block; all state
// they need between scans lives in the module itself or in the tag
// store.
package process

import (
	"time"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/statemach"
	"lactlink/tagstore"
)

// Env is the context a module sees for one scan. SP is the snapshot
// resolved at scan entry; Now comes from the controller's clock so a
// frozen clock yields reproducible records.
type Env struct {
	Store *tagstore.Store
	SP    config.Setpoints
	State statemach.State
	Scan  uint64
	Now   time.Time
	Ann   *alarm.Annunciator
	Log   func(format string, args ...interface{})
}

func (e Env) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log(format, args...)
	}
}

// scansFor converts seconds into a scan count, never less than one.
func (e Env) scansFor(sec float64) uint64 {
	n := uint64(sec * 1000.0 / float64(e.SP.ScanPeriodMS))
	if n == 0 {
		n = 1
	}
	return n
}

// Module is one unit of process logic executed every scan in a fixed
// order. An error is attributed to the module by the controller and
// does not stop the scan loop.
type Module interface {
	Name() string
	Execute(env Env) error
}

// accumulating reports whether batch totals grow in the given state.
func accumulating(s statemach.State) bool {
	return s == statemach.Running || s == statemach.Divert || s == statemach.Proving
}

func virtualFloat(st *tagstore.Store, name string) float64 {
	sm, err := st.Read(name)
	if err != nil {
		return 0
	}
	v, _ := sm.Any.(float64)
	return v
}

func virtualBool(st *tagstore.Store, name string) bool {
	sm, err := st.Read(name)
	if err != nil {
		return false
	}
	v, _ := sm.Any.(bool)
	return v
}
