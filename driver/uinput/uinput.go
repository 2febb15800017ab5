//go:build linux

// Package uinput publishes pointer events to the Linux input
// subsystem as a virtual single-touch screen.
package uinput

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
	"touchlcd.dev/input"
)

// From linux/uinput.h and linux/input-event-codes.h.
const (
	_UI_DEV_CREATE     = 0x5501
	_UI_DEV_DESTROY    = 0x5502
	_UI_SET_EVBIT      = 0x40045564
	_UI_SET_KEYBIT     = 0x40045565
	_UI_SET_ABSBIT     = 0x40045567
	_UI_SET_PROPBIT    = 0x4004556e
	_EV_SYN            = 0x00
	_EV_KEY            = 0x01
	_EV_ABS            = 0x03
	_SYN_REPORT        = 0x00
	_BTN_TOUCH         = 0x14a
	_ABS_X             = 0x00
	_ABS_Y             = 0x01
	_INPUT_PROP_DIRECT = 0x01
	_BUS_VIRTUAL       = 0x06

	absCnt  = 0x40
	nameLen = 80
)

// userDev matches the legacy struct uinput_user_dev.
type userDev struct {
	Name       [nameLen]byte
	Bustype    uint16
	Vendor     uint16
	Product    uint16
	Version    uint16
	EffectsMax uint32
	Absmax     [absCnt]int32
	Absmin     [absCnt]int32
	Absfuzz    [absCnt]int32
	Absflat    [absCnt]int32
}

// eventSize is the size of struct input_event: a struct timeval of
// two longs followed by type, code and value.
const eventSize = 2*int(unsafe.Sizeof(uintptr(0))) + 8

type Device struct {
	f       *os.File
	pressed bool
	buf     []byte
}

// Open creates a touch screen named name, reporting absolute
// positions within dims.
func Open(name string, dims image.Point) (*Device, error) {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("uinput: %w", err)
	}
	d := &Device{f: f}
	if err := d.setup(name, dims); err != nil {
		f.Close()
		return nil, fmt.Errorf("uinput: %w", err)
	}
	return d, nil
}

func (d *Device) setup(name string, dims image.Point) error {
	fd := int(d.f.Fd())
	bits := []struct {
		req uint
		val int
	}{
		{_UI_SET_EVBIT, _EV_KEY},
		{_UI_SET_KEYBIT, _BTN_TOUCH},
		{_UI_SET_EVBIT, _EV_ABS},
		{_UI_SET_ABSBIT, _ABS_X},
		{_UI_SET_ABSBIT, _ABS_Y},
		{_UI_SET_PROPBIT, _INPUT_PROP_DIRECT},
	}
	for _, b := range bits {
		if err := unix.IoctlSetInt(fd, b.req, b.val); err != nil {
			return fmt.Errorf("ioctl %#x: %w", b.req, err)
		}
	}
	dev := userDev{
		Bustype: _BUS_VIRTUAL,
		Vendor:  0x1a86,
		Product: 0x0328,
		Version: 1,
	}
	copy(dev.Name[:nameLen-1], name)
	dev.Absmax[_ABS_X] = int32(dims.X - 1)
	dev.Absmax[_ABS_Y] = int32(dims.Y - 1)
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.NativeEndian, &dev); err != nil {
		return err
	}
	if _, err := d.f.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := unix.IoctlSetInt(fd, _UI_DEV_CREATE, 0); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return nil
}

// Send reports e. Released events following a release are dropped.
func (d *Device) Send(e input.PointerEvent) error {
	d.buf = d.appendEvents(d.buf[:0], e)
	if len(d.buf) == 0 {
		return nil
	}
	if _, err := d.f.Write(d.buf); err != nil {
		return fmt.Errorf("uinput: %w", err)
	}
	return nil
}

func (d *Device) appendEvents(buf []byte, e input.PointerEvent) []byte {
	switch {
	case e.Pressed:
		buf = appendEvent(buf, _EV_ABS, _ABS_X, int32(e.Pos.X))
		buf = appendEvent(buf, _EV_ABS, _ABS_Y, int32(e.Pos.Y))
		if !d.pressed {
			buf = appendEvent(buf, _EV_KEY, _BTN_TOUCH, 1)
		}
	case d.pressed:
		buf = appendEvent(buf, _EV_KEY, _BTN_TOUCH, 0)
	default:
		return buf
	}
	d.pressed = e.Pressed
	return appendEvent(buf, _EV_SYN, _SYN_REPORT, 0)
}

func appendEvent(buf []byte, typ, code uint16, val int32) []byte {
	// The kernel timestamps injected events; leave the time zero.
	var ev [eventSize]byte
	bo := binary.NativeEndian
	off := eventSize - 8
	bo.PutUint16(ev[off:], typ)
	bo.PutUint16(ev[off+2:], code)
	bo.PutUint32(ev[off+4:], uint32(val))
	return append(buf, ev[:]...)
}

func (d *Device) Close() error {
	ioctlErr := unix.IoctlSetInt(int(d.f.Fd()), _UI_DEV_DESTROY, 0)
	if err := d.f.Close(); err != nil {
		return fmt.Errorf("uinput: %w", err)
	}
	if ioctlErr != nil {
		return fmt.Errorf("uinput: destroy: %w", ioctlErr)
	}
	return nil
}
