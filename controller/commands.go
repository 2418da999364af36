package controller

import (
	"lactlink/alarm"
	"lactlink/config"
	"lactlink/statemach"
	"lactlink/tags"
)

// CommandKind enumerates the operator commands the executive accepts.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdProve
	CmdProveReturn
	CmdReset
	CmdAck
	CmdSilence
	CmdSet
	CmdCloseBatch
)

func (k CommandKind) String() string {
	switch k {
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	case CmdProve:
		return "PROVE"
	case CmdProveReturn:
		return "PROVE_RETURN"
	case CmdReset:
		return "RESET"
	case CmdAck:
		return "ACK"
	case CmdSilence:
		return "SILENCE"
	case CmdSet:
		return "SET"
	case CmdCloseBatch:
		return "CLOSE_BATCH"
	default:
		return "UNKNOWN"
	}
}

// Command is one queued operator request. Key/Value carry the SET
// payload; Key alone carries the ACK target (empty acks everything).
type Command struct {
	Kind  CommandKind
	Key   string
	Value float64
}

// enqueue appends a command without blocking the calling thread.
func (c *Controller) enqueue(cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start requests unit startup.
func (c *Controller) Start() error { return c.enqueue(Command{Kind: CmdStart}) }

// Stop requests an orderly shutdown.
func (c *Controller) Stop() error { return c.enqueue(Command{Kind: CmdStop}) }

// Prove initiates a meter proving sequence.
func (c *Controller) Prove() error { return c.enqueue(Command{Kind: CmdProve}) }

// ProveReturn signals that the prover displacer has returned.
func (c *Controller) ProveReturn() error { return c.enqueue(Command{Kind: CmdProveReturn}) }

// Reset releases latched alarms and, from EStop, returns to Idle.
func (c *Controller) Reset() error { return c.enqueue(Command{Kind: CmdReset}) }

// Ack acknowledges one alarm, or all when id is empty.
func (c *Controller) Ack(id string) error { return c.enqueue(Command{Kind: CmdAck, Key: id}) }

// SilenceHorn mutes the horn until a fresh critical alarm arrives.
func (c *Controller) SilenceHorn() error { return c.enqueue(Command{Kind: CmdSilence}) }

// Set applies one setpoint.
func (c *Controller) Set(key string, value float64) error {
	return c.enqueue(Command{Kind: CmdSet, Key: key, Value: value})
}

// CloseBatch finalizes the current batch record.
func (c *Controller) CloseBatch() error { return c.enqueue(Command{Kind: CmdCloseBatch}) }

// drainCommands consumes up to maxCommandsPerScan queued commands at
// the defined point in the cycle.
func (c *Controller) drainCommands(sp config.Setpoints) {
	for i := 0; i < maxCommandsPerScan; i++ {
		select {
		case cmd := <-c.cmds:
			c.processCommand(cmd, sp)
		default:
			return
		}
	}
}

// rejectCommand logs and annunciates an operator command that is not
// valid right now. State is unchanged.
func (c *Controller) rejectCommand(cmd Command, reason string) {
	c.log("command %s rejected: %s", cmd.Kind, reason)
	c.ann.Raise(alarm.AlmIllegalCmd, alarm.SeverityInfo, alarm.ActionNone, 0)
}

func (c *Controller) processCommand(cmd Command, sp config.Setpoints) {
	state := c.machine.State()
	scan := c.scan.Load()

	switch cmd.Kind {
	case CmdStart:
		if state != statemach.Idle {
			c.rejectCommand(cmd, "unit is "+state.String())
			return
		}
		if !c.pump.StartPermitted(scan, sp) {
			c.rejectCommand(cmd, "pump start denied by motor protection")
			return
		}
		c.machine.Request(statemach.Startup)

	case CmdStop:
		switch state {
		case statemach.Running, statemach.Divert:
			c.machine.Request(statemach.Shutdown)
		case statemach.Startup:
			c.machine.Request(statemach.Idle)
		case statemach.Proving:
			c.rejectCommand(cmd, "prove in progress; abort it first")
		default:
			c.rejectCommand(cmd, "unit is "+state.String())
		}

	case CmdProve:
		println("DEBUG CmdProve state=", state.String())
		if state != statemach.Running {
			c.rejectCommand(cmd, "prove requires RUNNING")
			return
		}
		c.proving.Begin()
		// The state machine leaves PROVING as soon as PROVE_ACTIVE reads false.
		c.store.WriteAny(tags.ProveActive, true)
		c.machine.Request(statemach.Proving)

	case CmdProveReturn:
		if !c.proving.Active() {
			c.rejectCommand(cmd, "no prove in progress")
			return
		}
		c.proving.SignalReturn()

	case CmdReset:
		c.ann.ResetLatched()
		if state == statemach.EStop {
			c.machine.Request(statemach.Idle)
		}

	case CmdAck:
		if cmd.Key == "" {
			c.ann.AckAll()
		} else if !c.ann.Ack(cmd.Key) {
			c.rejectCommand(cmd, "alarm not active: "+cmd.Key)
		}

	case CmdSilence:
		c.ann.SilenceHorn()

	case CmdSet:
		if err := c.sps.Apply(config.Patch{cmd.Key: cmd.Value}); err != nil {
			c.rejectCommand(cmd, err.Error())
			return
		}
		c.log("setpoint %s = %g", cmd.Key, cmd.Value)
		if c.onSetpointChange != nil {
			c.onSetpointChange(cmd.Key, cmd.Value)
		}

	case CmdCloseBatch:
		batch := c.flow.CloseBatch(c.clock.Now())
		batch.SampleML = c.sampler.TotalML()
		batch.Grabs = c.sampler.Grabs()
		c.sampler.ResetTotals()
		c.log("batch closed: gross %.3f bbl, net %.3f bbl, diverted %.3f bbl",
			batch.GrossBBL, batch.NetBBL, batch.DivertedBBL)
		if c.onBatchClosed != nil {
			c.onBatchClosed(batch)
		}
	}
}
