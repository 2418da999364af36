// Package engine centralizes wiring: it builds the controller over
// the configured I/O backend, starts the telemetry publishers and the
// API server, persists reports and setpoints, and fans events out to
// the TUI and SSE consumers. Consoles stay thin clients of the
// Engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lactlink/alarm"
	"lactlink/config"
	"lactlink/controller"
	"lactlink/ioport"
	"lactlink/kafka"
	"lactlink/logging"
	"lactlink/modbus"
	"lactlink/mqtt"
	"lactlink/process"
	"lactlink/sim"
	"lactlink/statemach"
	"lactlink/valkey"
)

// LogFunc is the logging callback signature. The engine never imports
// the tui package.
type LogFunc func(format string, args ...interface{})

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc
}

// publishInterval paces the tag telemetry pump.
const publishInterval = 500 * time.Millisecond

// Engine owns the controller and every outward-facing collaborator.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc

	ctl     *controller.Controller
	sps     *config.SetpointStore
	port    ioport.Port
	simHW   *sim.Simulator // non-nil when the backend is the simulator
	mqttPub *mqtt.Publisher
	valkey  *valkey.Publisher
	kafkaP  *kafka.Producer

	Events *EventBus

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Alarm states last seen by the journal pump.
	lastAlarms map[string]alarm.Alarm
}

// New creates an Engine. Call Start to build the stack and begin
// scanning.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		Events:     NewEventBus(),
		lastAlarms: make(map[string]alarm.Alarm),
	}
}

// Start builds the I/O backend, the controller, and the publishers,
// then launches the scan loop and the telemetry pump.
func (e *Engine) Start() error {
	cfg := e.cfg

	sps, err := config.NewSetpointStore(cfg.Setpoints)
	if err != nil {
		return fmt.Errorf("setpoints: %w", err)
	}
	e.sps = sps

	switch cfg.IO.Backend {
	case "modbus":
		timeout := time.Duration(cfg.Setpoints.IOTimeoutMS) * time.Millisecond
		port, err := modbus.Connect(cfg.IO.Address, cfg.IO.UnitID, timeout)
		if err != nil {
			return err
		}
		e.port = port
	default:
		hw := sim.New(cfg.IO.Seed, cfg.Setpoints.ScanPeriodMS)
		hw.SetNoise(1.0)
		e.simHW = hw
		e.port = hw
	}

	ctl, err := controller.New(sps, e.port, controller.WithLogFunc(e.logFn))
	if err != nil {
		return err
	}
	e.ctl = ctl

	// Publishers, all optional.
	if cfg.MQTT.Enabled {
		e.mqttPub = mqtt.NewPublisher(cfg.MQTT, cfg.Namespace, cfg.Unit)
		if err := e.mqttPub.Start(); err != nil {
			e.logFn("mqtt publisher: %v", err)
		}
	}
	if cfg.Valkey.Enabled {
		e.valkey = valkey.NewPublisher(cfg.Valkey, cfg.Namespace, cfg.Unit)
		if err := e.valkey.Start(); err != nil {
			e.logFn("valkey publisher: %v", err)
		}
	}
	if cfg.Kafka.Enabled {
		e.kafkaP = kafka.NewProducer(cfg.Kafka, cfg.Namespace, cfg.Unit)
		go func() {
			if err := e.kafkaP.Connect(); err != nil {
				e.logFn("kafka producer: %v", err)
			}
		}()
	}

	ctl.SetOnStateChange(func(from, to statemach.State) {
		e.Events.Emit(Event{Type: EventStateChanged, Payload: StateEvent{From: from.String(), To: to.String()}})
		if e.mqttPub != nil {
			e.mqttPub.PublishState(from.String(), to.String(), time.Now())
		}
	})
	ctl.SetOnBatchClosed(func(b process.Batch) {
		e.persistReport("batch", b)
	})
	ctl.SetOnProvingDone(func(r process.ProveReport) {
		e.persistReport("proving", r)
	})
	ctl.SetOnSetpointChange(func(key string, value float64) {
		e.cfg.Lock()
		e.cfg.Setpoints = sps.Current()
		if err := e.cfg.UnlockAndSave(e.configPath); err != nil {
			e.logFn("setpoint save: %v", err)
		}
		e.Events.Emit(Event{Type: EventSetpointChanged, Payload: SetpointEvent{Key: key, Value: value}})
	})

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		ctl.Run(e.ctx)
	}()
	go e.publishLoop()

	return nil
}

// Stop winds the stack down: scan loop first (it writes the safe
// state), then the publishers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	if e.mqttPub != nil {
		e.mqttPub.Stop()
	}
	if e.valkey != nil {
		e.valkey.Stop()
	}
	if e.kafkaP != nil {
		e.kafkaP.Close()
	}
	if e.port != nil {
		e.port.Close()
	}
}

// Controller exposes the scan executive for consoles.
func (e *Engine) Controller() *controller.Controller { return e.ctl }

// GetConfig returns the application configuration.
func (e *Engine) GetConfig() *config.Config { return e.cfg }

// Simulator returns the simulated hardware, or nil on real I/O.
func (e *Engine) Simulator() *sim.Simulator { return e.simHW }

// publishLoop pumps tag values and alarm transitions to the
// publishers at a bounded rate, off the scan thread.
func (e *Engine) publishLoop() {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.pumpTags()
			e.pumpAlarms()
		}
	}
}

func (e *Engine) pumpTags() {
	snap := e.ctl.Store().Snapshot()
	for name, sm := range snap {
		if e.mqttPub != nil {
			e.mqttPub.PublishTag(name, sm.Value(), sm.Quality.String(), sm.Timestamp)
		}
		if e.valkey != nil && e.valkey.IsRunning() {
			e.valkey.SetTag(valkey.TagRecord{
				Tag: name, Value: sm.Value(), Quality: sm.Quality.String(), Timestamp: sm.Timestamp,
			})
		}
	}
	e.Events.Emit(Event{Type: EventTagsUpdated})
}

// pumpAlarms diffs the alarm table against the last pump and turns
// edges into journal entries, MQTT messages, and events.
func (e *Engine) pumpAlarms() {
	current := make(map[string]alarm.Alarm)
	for _, al := range e.ctl.Annunciator().Active() {
		current[al.ID] = al
	}

	for id, al := range current {
		prev, seen := e.lastAlarms[id]
		switch {
		case !seen:
			e.announceAlarm(al, "raised")
		case !prev.Acked && al.Acked:
			e.announceAlarm(al, "acked")
		}
	}
	for id, prev := range e.lastAlarms {
		if _, still := current[id]; !still {
			prev.Active = false
			e.announceAlarm(prev, "cleared")
		}
	}
	e.lastAlarms = current
}

func (e *Engine) announceAlarm(al alarm.Alarm, event string) {
	evType := EventAlarmRaised
	switch event {
	case "cleared":
		evType = EventAlarmCleared
	case "acked":
		evType = EventAlarmAcked
	}
	e.Events.Emit(Event{Type: evType, Payload: AlarmEvent{
		ID: al.ID, Severity: al.Severity.String(), Active: al.Active, Acked: al.Acked, Value: al.Value,
	}})
	if e.mqttPub != nil {
		e.mqttPub.PublishAlarm(mqtt.AlarmMessage{
			ID: al.ID, Severity: al.Severity.String(), Action: al.Action.String(),
			Active: al.Active, Acked: al.Acked, Value: al.Value, Timestamp: time.Now(),
		})
	}
	if e.valkey != nil && e.valkey.IsRunning() {
		e.valkey.AppendJournal(valkey.JournalEntry{
			ID: al.ID, Severity: al.Severity.String(), Event: event,
			Value: al.Value, Timestamp: time.Now(),
		})
	}
}

// persistReport appends the record to the reports file and ships it
// to the configured brokers.
func (e *Engine) persistReport(kind string, report interface{}) {
	now := time.Now()
	evType := EventBatchClosed
	if kind == "proving" {
		evType = EventProvingDone
	}
	e.Events.Emit(Event{Type: evType, Payload: ReportEvent{Kind: kind, Report: report}})

	if path := e.cfg.Reports.Path; path != "" {
		if err := appendJSONLine(path, kafka.ReportEnvelope{
			Unit: e.cfg.Unit, Kind: kind, Timestamp: now, Report: report,
		}); err != nil {
			e.logFn("report file: %v", err)
		}
	}
	if e.mqttPub != nil {
		e.mqttPub.PublishReport(kind, report)
	}
	if e.kafkaP != nil {
		go func() {
			if err := e.kafkaP.PublishReport(kind, now, report); err != nil {
				logging.DebugLog("kafka", "report publish: %v", err)
			}
		}()
	}
}

func appendJSONLine(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
