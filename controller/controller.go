// Package controller implements the scan executive: the fixed-cadence
// read-compute-write cycle that drives the safety manager, the state
// machine, and the process modules, plus the bounded command queue
// the operator console feeds. All control logic runs on the single
// scan goroutine; callers only enqueue commands and read snapshots.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/ioport"
	"lactlink/process"
	"lactlink/safety"
	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

// ErrQueueFull is returned when the command queue cannot accept
// another command this scan interval.
var ErrQueueFull = errors.New("command queue full")

const (
	commandQueueCap    = 32
	maxCommandsPerScan = 8
)

// Clock abstracts monotonic time so tests can freeze the scan loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Controller owns the scan loop and every component it orchestrates.
type Controller struct {
	store   *tagstore.Store
	sps     *config.SetpointStore
	ann     *alarm.Annunciator
	machine *statemach.Machine
	safety  *safety.Manager
	io      ioport.Port
	clock   Clock
	logFn   func(format string, args ...interface{})

	flow        *process.Flow
	bsw         *process.BSW
	sampler     *process.Sampler
	pump        *process.Pump
	proving     *process.Proving
	pressure    *process.Pressure
	temperature *process.Temperature
	divert      *process.Divert
	modules     []process.Module

	cmds chan Command

	scan        atomic.Uint64
	stateMirror atomic.Int32
	halted      atomic.Bool

	statsMu     sync.Mutex
	lastScanDur time.Duration
	maxScanDur  time.Duration
	overruns    uint64

	onBatchClosed    func(process.Batch)
	onProvingDone    func(process.ProveReport)
	onStateChange    func(from, to statemach.State)
	onSetpointChange func(key string, value float64)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, freezing time for tests.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogFunc sets the logging callback.
func WithLogFunc(fn func(format string, args ...interface{})) Option {
	return func(ctl *Controller) { ctl.logFn = fn }
}

// New builds a controller over the given I/O port and setpoints.
// Tag declaration failures are configuration errors and abort.
func New(sps *config.SetpointStore, io ioport.Port, opts ...Option) (*Controller, error) {
	c := &Controller{
		sps:   sps,
		io:    io,
		clock: realClock{},
		cmds:  make(chan Command, commandQueueCap),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.store = tagstore.NewWithClock(c.clock.Now)
	if err := ioport.DeclareTags(c.store); err != nil {
		return nil, fmt.Errorf("tag declaration: %w", err)
	}

	c.ann = alarm.NewWithClock(c.clock.Now)
	c.ann.SetLogFunc(c.logFn)
	c.safety = safety.NewManager(c.ann)
	c.safety.SetLogFunc(c.logFn)

	c.machine = statemach.New(c.store)
	c.machine.SetLogFunc(c.logFn)
	c.machine.SetOnChange(func(from, to statemach.State) {
		c.stateMirror.Store(int32(to))
		if c.onStateChange != nil {
			c.onStateChange(from, to)
		}
	})

	c.flow = process.NewFlow()
	c.bsw = process.NewBSW()
	c.sampler = process.NewSampler()
	c.pump = process.NewPump()
	c.proving = process.NewProving(sps)
	c.proving.SetOnComplete(func(r process.ProveReport) {
		if c.onProvingDone != nil {
			c.onProvingDone(r)
		}
	})
	c.pressure = process.NewPressure()
	c.temperature = process.NewTemperature()
	c.divert = process.NewDivert()

	// Fixed execution order; the divert monitor runs last so it sees
	// the scan's final valve command.
	c.modules = []process.Module{
		c.bsw, c.flow, c.pressure, c.temperature,
		c.sampler, c.pump, c.proving, c.divert,
	}
	return c, nil
}

// SetOnBatchClosed sets a callback receiving the finished batch record.
func (c *Controller) SetOnBatchClosed(fn func(process.Batch)) { c.onBatchClosed = fn }

// SetOnProvingDone sets a callback receiving the proving report.
func (c *Controller) SetOnProvingDone(fn func(process.ProveReport)) { c.onProvingDone = fn }

// SetOnStateChange sets a callback fired on every state transition.
func (c *Controller) SetOnStateChange(fn func(from, to statemach.State)) { c.onStateChange = fn }

// SetOnSetpointChange sets a callback fired after a SET command is
// applied, so the owner can persist the new snapshot.
func (c *Controller) SetOnSetpointChange(fn func(key string, value float64)) {
	c.onSetpointChange = fn
}

// Store exposes the process image for the console and publishers.
func (c *Controller) Store() *tagstore.Store { return c.store }

// Annunciator exposes the alarm table for read-side consumers.
func (c *Controller) Annunciator() *alarm.Annunciator { return c.ann }

// Setpoints returns the active setpoint snapshot.
func (c *Controller) Setpoints() config.Setpoints { return c.sps.Current() }

// State returns the operating state, safe from any goroutine.
func (c *Controller) State() statemach.State {
	return statemach.State(c.stateMirror.Load())
}

// ScanCount returns the number of completed scans.
func (c *Controller) ScanCount() uint64 { return c.scan.Load() }

// ScanStats returns the last and worst scan durations and the overrun
// count.
func (c *Controller) ScanStats() (last, max time.Duration, overruns uint64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.lastScanDur, c.maxScanDur, c.overruns
}

func (c *Controller) log(format string, args ...interface{}) {
	if c.logFn != nil {
		c.logFn(format, args...)
	}
}

// Run executes the scan loop until the context is canceled. On
// cancellation the in-flight scan finishes, outputs are driven to the
// safe state, and a final write reaches the field.
func (c *Controller) Run(ctx context.Context) {
	sp := c.sps.Current()
	c.log("scan loop starting (period %d ms)", sp.ScanPeriodMS)

	for {
		if ctx.Err() != nil || c.halted.Load() {
			break
		}

		t0 := c.clock.Now()
		c.Step()
		elapsed := c.clock.Now().Sub(t0)

		period := time.Duration(c.sps.Current().ScanPeriodMS) * time.Millisecond
		if sleep := period - elapsed; sleep > 0 {
			c.clock.Sleep(sleep)
		} else {
			// Overrun: log and continue at the next natural boundary
			// rather than compounding the slip.
			c.statsMu.Lock()
			c.overruns++
			n := c.overruns
			c.statsMu.Unlock()
			c.log("scan overrun: %.1f ms (target %d ms, total overruns %d)",
				float64(elapsed)/float64(time.Millisecond), c.sps.Current().ScanPeriodMS, n)
		}
	}

	c.safeState()
	c.log("scan loop stopped after %d scans", c.scan.Load())
}

// Step executes exactly one scan cycle. Exported so tests can pace
// the executive under a frozen clock.
func (c *Controller) Step() {
	t0 := c.clock.Now()
	sp := c.sps.Current()
	scan := c.scan.Add(1)

	c.ann.BeginScan()
	c.drainCommands(sp)

	if err := c.io.ReadInputs(c.store); err != nil {
		// Affected tags carry Bad quality; the probe-failure checks
		// convert sustained Bad into alarms.
		c.log("input read: %v", err)
	}

	state := c.machine.State()
	c.guard("safety", true, func() {
		c.safety.Evaluate(safety.Env{Store: c.store, SP: sp, State: state, Scan: scan})
	})

	c.guard("statemach", true, func() {
		c.machine.Step(statemach.Env{
			Store:    c.store,
			SP:       sp,
			Requests: c.ann.Requests(),
			Ann:      c.ann,
			Scan:     scan,
		})
	})
	c.stateMirror.Store(int32(c.machine.State()))

	env := process.Env{
		Store: c.store,
		SP:    sp,
		State: c.machine.State(),
		Scan:  scan,
		Now:   c.clock.Now(),
		Ann:   c.ann,
		Log:   c.logFn,
	}
	for _, m := range c.modules {
		mod := m
		c.guard(mod.Name(), false, func() {
			if err := mod.Execute(env); err != nil {
				c.log("module %s: %v", mod.Name(), err)
				c.ann.Raise(alarm.AlmModuleFault, alarm.SeverityWarn, alarm.ActionNone, 0)
			}
		})
	}

	c.ann.UpdateOutputs(c.store)

	if err := c.io.WriteOutputs(c.store); err != nil {
		c.log("output write: %v", err)
	}

	dur := c.clock.Now().Sub(t0)
	c.statsMu.Lock()
	c.lastScanDur = dur
	if dur > c.maxScanDur {
		c.maxScanDur = dur
	}
	c.statsMu.Unlock()
}

// guard fences a component: a panic inside the safety manager or the
// state machine forces E-stop and halts the loop; a panic inside a
// process module is contained and attributed.
func (c *Controller) guard(name string, vital bool, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log("panic in %s: %v", name, r)
			if vital {
				c.forceEStop()
			} else {
				c.ann.Raise(alarm.AlmModuleFault, alarm.SeverityWarn, alarm.ActionNone, 0)
			}
		}
	}()
	fn()
}

// forceEStop drives the unit to EStop and halts the scan loop after
// the current scan writes its outputs. A second panic here must not
// escape past the safe-state write, so the machine call is fenced.
func (c *Controller) forceEStop() {
	c.ann.Raise(alarm.AlmEStop, alarm.SeverityCritical, alarm.ActionEStop, 0)
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log("panic during forced E-stop: %v", r)
			}
		}()
		c.machine.Step(statemach.Env{
			Store:    c.store,
			SP:       c.sps.Current(),
			Requests: alarm.Requests{EStop: true},
			Ann:      c.ann,
			Scan:     c.scan.Load(),
		})
	}()
	c.stateMirror.Store(int32(c.machine.State()))
	c.halted.Store(true)
}

// safeState forces every output to its de-energized safe value and
// pushes one final write to the field.
func (c *Controller) safeState() {
	for _, p := range ioport.DigitalOutputs() {
		v := false
		if p.Tag == tags.DODivertCmd {
			v = true // fail position is DIVERT
		}
		c.store.WriteBool(p.Tag, v)
	}
	if err := c.io.WriteOutputs(c.store); err != nil {
		c.log("safe-state write: %v", err)
	}
}
