package cst328

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Bus is a two-wire bus capable of combined write-then-read
// transactions. It is satisfied by periph.io i2c.Bus, tinygo's
// machine.I2C and i2cdev.Bus.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// TimeoutBus is implemented by buses that can bound the duration of
// a single transaction.
type TimeoutBus interface {
	Bus
	SetTimeout(d time.Duration) error
}

// Opener initializes the bus on the named port at the given clock
// frequency in Hz.
type Opener func(port string, hz uint32) (Bus, error)

var (
	// ErrBus wraps every failed bus transaction.
	ErrBus = errors.New("bus error")
	// ErrPayloadTooLarge is returned for register writes longer than
	// maxWrite bytes.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Transaction timeouts.
const (
	dataTimeout  = 1000 * time.Millisecond
	probeTimeout = 200 * time.Millisecond
	modeTimeout  = 100 * time.Millisecond
	scanTimeout  = 50 * time.Millisecond
)

const maxWrite = 32

// conn addresses 16-bit registers of the device at addr. Register
// addresses are sent most significant byte first.
type conn struct {
	bus  Bus
	addr uint16
	buf  [2 + maxWrite]byte
}

func (c *conn) setTimeout(d time.Duration) error {
	if tb, ok := c.bus.(TimeoutBus); ok {
		return tb.SetTimeout(d)
	}
	return nil
}

func (c *conn) tx(w, r []byte, timeout time.Duration) error {
	if c.bus == nil {
		return fmt.Errorf("%w: no bus", ErrBus)
	}
	if err := c.setTimeout(timeout); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	if err := c.bus.Tx(c.addr, w, r); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	return nil
}

// read reads len(rx) bytes starting at register reg.
func (c *conn) read(reg uint16, rx []byte, timeout time.Duration) error {
	w := c.buf[:2]
	w[0], w[1] = byte(reg>>8), byte(reg)
	if err := c.tx(w, rx, timeout); err != nil {
		return fmt.Errorf("read %#04x: %w", reg, err)
	}
	return nil
}

// write writes tx to register reg. An empty tx sends the register
// address alone.
func (c *conn) write(reg uint16, tx []byte, timeout time.Duration) error {
	if len(tx) > maxWrite {
		return fmt.Errorf("write %#04x: %w: %d bytes", reg, ErrPayloadTooLarge, len(tx))
	}
	w := c.buf[:2+len(tx)]
	w[0], w[1] = byte(reg>>8), byte(reg)
	copy(w[2:], tx)
	if err := c.tx(w, nil, timeout); err != nil {
		return fmt.Errorf("write %#04x: %w", reg, err)
	}
	return nil
}

// receive reads from the device without addressing a register.
func (c *conn) receive(rx []byte, timeout time.Duration) error {
	return c.tx(nil, rx, timeout)
}

func (c *conn) close() error {
	var err error
	if cl, ok := c.bus.(io.Closer); ok {
		err = cl.Close()
	}
	c.bus = nil
	return err
}
