// Package modbus adapts the unit's Modbus TCP I/O expansion modules
// to the ioport boundary: discrete inputs 0-12, coils 100-107, input
// registers 200-206 plus the 32-bit pulse counter at 300/301, and
// holding registers 400-401. Raw 0-4095 counts scale linearly to the
// declared engineering ranges.
package modbus

import (
	"encoding/binary"
	"fmt"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"lactlink/ioport"
	"lactlink/tags"
	"lactlink/tagstore"
)

// Client is the fieldbus I/O port implementation.
type Client struct {
	handler *gomodbus.TCPClientHandler
	client  gomodbus.Client

	// The field counter is 32 bits; widen it so the core sees a
	// monotonic 64-bit count across counter wraps.
	lastRaw32 uint32
	extended  uint64
	primed    bool
}

// Connect dials the I/O module rack. Every field transaction is
// bounded by the given per-call timeout.
func Connect(address string, unitID byte, timeout time.Duration) (*Client, error) {
	handler := gomodbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	if unitID != 0 {
		handler.SlaveId = unitID
	}
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus connect %s: %w", address, err)
	}
	return &Client{
		handler: handler,
		client:  gomodbus.NewClient(handler),
	}, nil
}

// ReadInputs populates every DI, AI, and PI tag. On a transport
// failure the affected tags are marked Bad and the error is reported;
// the scan loop continues.
func (c *Client) ReadInputs(store *tagstore.Store) error {
	dis := ioport.DigitalInputs()
	bits, err := c.client.ReadDiscreteInputs(ioport.RegDIBase, uint16(len(dis)))
	if err != nil {
		for _, p := range dis {
			store.SetQuality(p.Tag, tagstore.QualityBad)
		}
		return fmt.Errorf("discrete inputs: %w", err)
	}
	for i, p := range dis {
		v := bits[i/8]&(1<<(i%8)) != 0
		store.WriteBool(p.Tag, v)
	}

	ais := ioport.AnalogInputs()
	regs, err := c.client.ReadInputRegisters(ioport.RegInputBase, uint16(len(ais)))
	if err != nil {
		for _, p := range ais {
			store.SetQuality(p.Tag, tagstore.QualityBad)
		}
		return fmt.Errorf("input registers: %w", err)
	}
	for i, p := range ais {
		raw := binary.BigEndian.Uint16(regs[i*2:])
		store.WriteFloat(p.Tag, ioport.ScaleAnalog(raw, p.Lo, p.Hi))
	}

	pulse, err := c.client.ReadInputRegisters(ioport.RegPulse, 2)
	if err != nil {
		store.SetQuality(tags.PIMeterPulse, tagstore.QualityBad)
		return fmt.Errorf("pulse counter: %w", err)
	}
	hi := binary.BigEndian.Uint16(pulse[0:])
	lo := binary.BigEndian.Uint16(pulse[2:])
	raw32 := uint32(hi)<<16 | uint32(lo)
	if c.primed {
		c.extended += uint64(raw32 - c.lastRaw32) // modular on 32-bit wrap
	} else {
		c.primed = true
	}
	c.lastRaw32 = raw32
	store.WriteCount(tags.PIMeterPulse, c.extended)
	return nil
}

// WriteOutputs pushes every DO and AO tag to the field.
func (c *Client) WriteOutputs(store *tagstore.Store) error {
	var firstErr error
	for _, p := range ioport.DigitalOutputs() {
		v, err := store.Bool(p.Tag)
		if err != nil {
			continue
		}
		var coil uint16
		if v {
			coil = 0xFF00
		}
		if _, err := c.client.WriteSingleCoil(p.Reg, coil); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("coil %d: %w", p.Reg, err)
		}
	}
	for _, p := range ioport.AnalogOutputs() {
		v, err := store.Float(p.Tag)
		if err != nil {
			continue
		}
		raw := ioport.UnscaleAnalog(v, p.Lo, p.Hi)
		if _, err := c.client.WriteSingleRegister(p.Reg, raw); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("holding %d: %w", p.Reg, err)
		}
	}
	return firstErr
}

// Close shuts the TCP connection down.
func (c *Client) Close() error {
	return c.handler.Close()
}

var _ ioport.Port = (*Client)(nil)
