//go:build linux

// Package i2cdev implements an I2C bus on top of the Linux i2c-dev
// interface, with combined transactions and per-transaction
// timeouts.
package i2cdev

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// From linux/i2c-dev.h.
	_I2C_TIMEOUT = 0x0702
	_I2C_RDWR    = 0x0707

	// From linux/i2c.h.
	_I2C_M_RD = 0x0001
)

// i2cMsg matches struct i2c_msg.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// rdwrData matches struct i2c_rdwr_ioctl_data.
type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// timeoutUnit is the granularity of I2C_TIMEOUT.
const timeoutUnit = 10 * time.Millisecond

type Bus struct {
	f       *os.File
	timeout time.Duration
}

// Open opens /dev/i2c-<port>.
func Open(port string) (*Bus, error) {
	name := "/dev/i2c-" + port
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2cdev: %w", err)
	}
	return &Bus{f: f}, nil
}

func (b *Bus) String() string {
	return b.f.Name()
}

// SetTimeout bounds the duration of the following transactions. The
// kernel rounds timeouts to multiples of 10ms.
func (b *Bus) SetTimeout(d time.Duration) error {
	if d == b.timeout {
		return nil
	}
	units := int((d + timeoutUnit - 1) / timeoutUnit)
	if err := unix.IoctlSetInt(int(b.f.Fd()), _I2C_TIMEOUT, units); err != nil {
		return fmt.Errorf("i2cdev: timeout: %w", err)
	}
	b.timeout = d
	return nil
}

// Tx writes w and then reads into r in a single transaction to addr.
// Either of w and r may be empty.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	var msgs [2]i2cMsg
	n := 0
	if len(w) > 0 {
		msgs[n] = i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = i2cMsg{addr: addr, flags: _I2C_M_RD, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	if n == 0 {
		return errors.New("i2cdev: empty transaction")
	}
	data := rdwrData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(n),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), _I2C_RDWR, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(&msgs)
	if errno != 0 {
		return fmt.Errorf("i2cdev: addr %#02x: %w", addr, errno)
	}
	return nil
}

func (b *Bus) Close() error {
	return b.f.Close()
}
