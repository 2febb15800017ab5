// Package cst328 implements a driver for the Hynitron CST328
// capacitive touch controller.
//
// The driver probes the controller once, decodes one touch report
// per poll, learns the raw coordinate range of the panel and maps
// touches into display coordinates. Bus failures never propagate:
// they degrade into released pointer events.
//
// A Device is not safe for concurrent use. The host must serialize
// calls to Poll, which it does when polling through an input.Indev.
package cst328

import (
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"touchlcd.dev/input"
	"touchlcd.dev/touch"
)

const (
	addrPrimary  = 0x1A
	addrFallback = 0x15

	// busClock is the bus frequency for probing and operation.
	busClock = 100_000

	regTouchData  = 0xD000
	regTouchCount = 0xD005
	regDebugMode  = 0xD101
	regNormalMode = 0xD109
	regResX       = 0xD1F8
	regResY       = 0xD1FA

	// Payload sizes of the two decode paths.
	countedLen = 27
	legacyLen  = 8
	maxTouches = 5

	// alignmentSentinel is the expected value of payload byte 6.
	alignmentSentinel = 0xAB
	// pressedStatus is the low nibble of the legacy status byte while
	// touched.
	pressedStatus = 0x06
)

// DefaultPorts is the bus port search order.
var DefaultPorts = []string{"1", "0"}

// ErrNotFound is returned by Probe when no controller answered on
// any port.
var ErrNotFound = errors.New("cst328: controller not found")

// State is the lifecycle state of a Device.
type State int

const (
	Uninitialized State = iota
	Probing
	Online
	// Absent is terminal; polls report released without bus traffic.
	Absent
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Probing:
		return "probing"
	case Online:
		return "online"
	case Absent:
		return "absent"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Descriptor identifies a probed controller.
type Descriptor struct {
	Port string
	Addr uint16
	// Nominal maxima reported by the controller. YMax is 0 if its
	// register could not be read.
	XMax, YMax uint16
}

// OutputPin is a digital output, such as tinygo's machine.Pin.
type OutputPin interface {
	High()
	Low()
}

// InputPin is a digital input, such as tinygo's machine.Pin.
type InputPin interface {
	Get() bool
}

type Options struct {
	Rotation touch.Rotation
	// Reset is the active low reset line. Nil if not wired.
	Reset OutputPin
	// Interrupt is the active low interrupt line. If set, polls
	// skip the bus while it is high.
	Interrupt InputPin
	// Seed are initial calibration bounds, used if valid.
	Seed touch.Bounds
	// ScanAddresses logs the devices answering in the address range
	// near the controller while probing.
	ScanAddresses bool
	// Verbose logs raw payloads, coordinates and calibration changes.
	Verbose bool
	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Stats counts driver activity since initialization.
type Stats struct {
	Polls             int
	Presses           int
	BusErrors         int
	AlignmentWarnings int
	// Decodes per path.
	Counted, Legacy int
}

// Device is a driver session. It exclusively owns the bus connection,
// the controller descriptor and the calibration bounds.
type Device struct {
	open    Opener
	opts    Options
	state   State
	conn    conn
	desc    Descriptor
	display image.Point
	bounds  touch.Bounds
	stats   Stats
	buf     [countedLen]byte
}

func New(open Opener, opts Options) *Device {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Device{
		open:   open,
		opts:   opts,
		bounds: opts.Seed,
	}
}

// Init probes for the controller on ports, or DefaultPorts if none
// are given, and registers the device as the read callback of indev.
// The display resolution is taken from indev. A missing controller is
// logged and leaves the device Absent.
func (d *Device) Init(indev *input.Indev, ports ...string) {
	d.display = indev.Dims()
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	// Failure leaves the device Absent and is already logged.
	_ = d.Probe(ports...)
	indev.SetReadFunc(d.Poll)
}

// SetDisplay sets the display resolution touches are mapped into.
func (d *Device) SetDisplay(dims image.Point) {
	d.display = dims
}

// Poll reads the current touch state and returns it in display
// coordinates. It never fails: missing devices, bus errors and
// released touches all report a released event.
func (d *Device) Poll() input.PointerEvent {
	d.stats.Polls++
	if d.state != Online {
		return input.PointerEvent{}
	}
	if d.opts.Interrupt != nil && d.opts.Interrupt.Get() {
		return input.PointerEvent{}
	}
	s, err := d.decode()
	if err != nil {
		d.stats.BusErrors++
		if d.opts.Verbose {
			d.opts.Logf("cst328: poll: %v", err)
		}
		return input.PointerEvent{}
	}
	if !s.Pressed {
		return input.PointerEvent{}
	}
	d.stats.Presses++
	if d.bounds.Add(s.X, s.Y) && d.opts.Verbose {
		d.opts.Logf("cst328: calibration %v", d.bounds)
	}
	m := d.mapper()
	pos := m.Map(s, d.bounds)
	if d.opts.Verbose {
		n := m.Normalize(s, d.bounds)
		d.opts.Logf("cst328: raw=(%d,%d) norm=(%d,%d) display=(%d,%d)", s.X, s.Y, n.X, n.Y, pos.X, pos.Y)
	}
	return input.PointerEvent{Pressed: true, Pos: pos}
}

func (d *Device) mapper() touch.Mapper {
	return touch.Mapper{
		Nominal:  image.Pt(int(d.desc.XMax), int(d.desc.YMax)),
		Display:  d.display,
		Rotation: d.opts.Rotation,
	}
}

func (d *Device) State() State {
	return d.state
}

// Descriptor returns the probed controller, if online.
func (d *Device) Descriptor() (Descriptor, bool) {
	return d.desc, d.state == Online
}

// Bounds returns the current calibration bounds.
func (d *Device) Bounds() touch.Bounds {
	return d.bounds
}

func (d *Device) Stats() Stats {
	return d.stats
}

// Close releases the bus. The device is Absent afterwards.
func (d *Device) Close() error {
	d.state = Absent
	if err := d.conn.close(); err != nil {
		return fmt.Errorf("cst328: %w", err)
	}
	return nil
}
