package alarm

import (
	"sort"
	"sync"
	"time"

	"lactlink/tags"
	"lactlink/tagstore"
)

// Annunciator owns the alarm table. Raising is edge-triggered and
// idempotent; repeat raises of an active alarm keep FirstSeen and the
// ack state, refresh LastSeen, severity, action and value, and set the
// request flag again.
// Mutations happen on the scan thread; the console thread only reads,
// so a single RWMutex covers both.
type Annunciator struct {
	mu    sync.RWMutex
	table map[string]*Alarm
	now   func() time.Time
	logFn func(format string, args ...interface{})

	requests   Requests
	silencedAt time.Time
	haveSilence bool
}

// New creates an empty annunciator stamping with time.Now.
func New() *Annunciator {
	return NewWithClock(time.Now)
}

// NewWithClock creates an annunciator using the given timestamp source.
func NewWithClock(now func() time.Time) *Annunciator {
	return &Annunciator{
		table: make(map[string]*Alarm),
		now:   now,
	}
}

// SetLogFunc sets the logging callback.
func (a *Annunciator) SetLogFunc(fn func(format string, args ...interface{})) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logFn = fn
}

func (a *Annunciator) log(format string, args ...interface{}) {
	if a.logFn != nil {
		a.logFn("[alarm] "+format, args...)
	}
}

// infoExpiry bounds how long a one-shot Info annunciation stays
// active without being re-raised.
const infoExpiry = 10 * time.Second

// BeginScan clears the request flags and expires stale Info alarms.
// The controller calls this at the top of every scan before the
// safety manager runs.
func (a *Annunciator) BeginScan() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = Requests{}

	now := a.now()
	for _, al := range a.table {
		if al.Active && al.Severity == SeverityInfo && now.Sub(al.LastSeen) > infoExpiry {
			al.Active = false
			al.Acked = false
		}
	}
}

// Raise activates an alarm, recording severity and action. Critical
// alarms demanding Shutdown or EStop latch until ResetLatched. The
// associated request flag is set for consumption in the same scan.
func (a *Annunciator) Raise(id string, sev Severity, action Action, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	al, ok := a.table[id]
	if !ok {
		al = &Alarm{ID: id}
		a.table[id] = al
	}
	now := a.now()
	if !al.Active {
		al.Active = true
		al.Acked = false
		al.FirstSeen = now
		a.log("raised %s (%s, %s)", id, sev, action)
	}
	al.LastSeen = now
	al.Severity = sev
	al.Action = action
	al.Value = value
	if sev == SeverityCritical && (action == ActionShutdown || action == ActionEStop) {
		al.Latched = true
	}

	switch action {
	case ActionEStop:
		a.requests.EStop = true
	case ActionShutdown:
		a.requests.Shutdown = true
	case ActionDivert:
		a.requests.Divert = true
	}
}

// Clear deactivates an alarm whose condition has gone false. Latched
// alarms stay active until ResetLatched.
func (a *Annunciator) Clear(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	al, ok := a.table[id]
	if !ok || !al.Active {
		return
	}
	if al.Latched {
		return
	}
	al.Active = false
	al.Acked = false
	a.log("cleared %s", id)
}

// Ack acknowledges a single alarm. Returns false if the alarm is not
// active.
func (a *Annunciator) Ack(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	al, ok := a.table[id]
	if !ok || !al.Active {
		return false
	}
	al.Acked = true
	return true
}

// AckAll acknowledges every active alarm.
func (a *Annunciator) AckAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, al := range a.table {
		if al.Active {
			al.Acked = true
		}
	}
}

// ResetLatched releases every latched alarm. If the underlying
// condition persists the safety manager re-raises it next scan, so an
// unwarranted reset cannot mask a live trip.
func (a *Annunciator) ResetLatched() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, al := range a.table {
		if al.Latched {
			al.Latched = false
			al.Active = false
			al.Acked = false
			a.log("reset %s", al.ID)
		}
	}
}

// SilenceHorn mutes the horn until a fresh unacked critical arrives.
func (a *Annunciator) SilenceHorn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.silencedAt = a.now()
	a.haveSilence = true
}

// Requests returns the single highest-severity request demanded this
// scan. EStop dominates Shutdown dominates Divert.
func (a *Annunciator) Requests() Requests {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.requests.EStop:
		return Requests{EStop: true}
	case a.requests.Shutdown:
		return Requests{Shutdown: true}
	case a.requests.Divert:
		return Requests{Divert: true}
	default:
		return Requests{}
	}
}

// IsActive reports whether the named alarm is currently active.
func (a *Annunciator) IsActive(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	al, ok := a.table[id]
	return ok && al.Active
}

// Active returns the active alarms sorted by ID.
func (a *Annunciator) Active() []Alarm {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Alarm
	for _, al := range a.table {
		if al.Active {
			out = append(out, *al)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unacked returns the active, unacknowledged alarms sorted by ID.
func (a *Annunciator) Unacked() []Alarm {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Alarm
	for _, al := range a.table {
		if al.Active && !al.Acked {
			out = append(out, *al)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateOutputs drives the beacon and horn coils and the alarm
// summary tags: beacon while any unacked alarm exists, horn while any
// unacked Critical exists (subject to silence).
func (a *Annunciator) UpdateOutputs(store *tagstore.Store) {
	a.mu.Lock()

	activeCount := 0
	unackCount := 0
	anyUnacked := false
	hornOn := false
	var newestCritical time.Time
	for _, al := range a.table {
		if !al.Active {
			continue
		}
		activeCount++
		if al.Acked {
			continue
		}
		unackCount++
		anyUnacked = true
		if al.Severity == SeverityCritical {
			hornOn = true
			if al.FirstSeen.After(newestCritical) {
				newestCritical = al.FirstSeen
			}
		}
	}

	if hornOn && a.haveSilence {
		if newestCritical.After(a.silencedAt) {
			// A fresh critical overrides the silence.
			a.haveSilence = false
		} else {
			hornOn = false
		}
	}
	a.mu.Unlock()

	store.WriteBool(tags.DOAlarmBeacon, anyUnacked)
	store.WriteBool(tags.DOAlarmHorn, hornOn)
	store.WriteAny(tags.AlarmActive, activeCount)
	store.WriteAny(tags.AlarmUnacked, unackCount)
}
