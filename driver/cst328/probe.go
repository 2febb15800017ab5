package cst328

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Probe resets the controller and searches for it at the primary and
// fallback addresses of each port in turn. On success the device is
// Online; otherwise it is Absent and ErrNotFound is returned. Probe
// runs once per session.
func (d *Device) Probe(ports ...string) error {
	if d.state != Uninitialized {
		return fmt.Errorf("cst328: probe in state %v", d.state)
	}
	d.state = Probing
	d.reset()
	for i, port := range ports {
		if i > 0 {
			d.opts.Logf("cst328: retry on port %s", port)
		}
		if err := d.openBus(port); err != nil {
			d.opts.Logf("cst328: %v", err)
			continue
		}
		if d.opts.ScanAddresses {
			d.scan(port)
		}
		for _, addr := range []uint16{addrPrimary, addrFallback} {
			if err := d.attach(port, addr); err != nil {
				if d.opts.Verbose {
					d.opts.Logf("cst328: port %s: %v", port, err)
				}
				continue
			}
			d.enterNormalMode()
			d.state = Online
			if _, ok := d.conn.bus.(TimeoutBus); !ok {
				d.opts.Logf("cst328: warning: port %s: bus cannot bound transactions; relying on the adapter timeout", port)
			}
			d.opts.Logf("cst328: touch online port=%s addr=%#02x xmax=%d ymax=%d",
				d.desc.Port, d.desc.Addr, d.desc.XMax, d.desc.YMax)
			return nil
		}
	}
	_ = d.conn.close()
	d.state = Absent
	d.opts.Logf("cst328: not responding at %#02x/%#02x on ports %v; continuing without touch",
		addrPrimary, addrFallback, ports)
	return ErrNotFound
}

// reset pulses the reset line, or waits for the controller to settle
// if it is not wired.
func (d *Device) reset() {
	rst := d.opts.Reset
	if rst == nil {
		d.opts.Sleep(50 * time.Millisecond)
		return
	}
	rst.Low()
	d.opts.Sleep(10 * time.Millisecond)
	rst.High()
	d.opts.Sleep(100 * time.Millisecond)
}

// openBus replaces the current bus with a new one on port.
func (d *Device) openBus(port string) error {
	_ = d.conn.close()
	bus, err := d.open(port, busClock)
	if err != nil {
		return fmt.Errorf("port %s: %w", port, err)
	}
	d.conn.bus = bus
	return nil
}

// scan logs the addresses in 0x10-0x1f that answer a one byte
// receive.
func (d *Device) scan(port string) {
	d.opts.Logf("cst328: bus scan (port=%s, %dkHz)", port, busClock/1000)
	prev := d.conn.addr
	defer func() { d.conn.addr = prev }()
	var dummy [1]byte
	for a := uint16(0x10); a <= 0x1f; a++ {
		d.conn.addr = a
		if err := d.conn.receive(dummy[:], scanTimeout); err == nil {
			d.opts.Logf("cst328:   found addr %#02x", a)
		}
	}
}

// attach targets addr and reads the nominal resolution in debug info
// mode. A readable X maximum identifies the controller even if the Y
// maximum is not. The previous address is restored on failure.
func (d *Device) attach(port string, addr uint16) error {
	prev := d.conn.addr
	d.conn.addr = addr
	d.enterDebugMode()
	res := d.buf[:2]
	if err := d.conn.read(regResX, res, probeTimeout); err != nil {
		d.conn.addr = prev
		return fmt.Errorf("addr %#02x: %w", addr, err)
	}
	bo := binary.LittleEndian
	desc := Descriptor{
		Port: port,
		Addr: addr,
		XMax: bo.Uint16(res),
	}
	if err := d.conn.read(regResY, res, probeTimeout); err == nil {
		desc.YMax = bo.Uint16(res)
	} else {
		d.opts.Logf("cst328: warning: addr %#02x: y resolution: %v", addr, err)
	}
	d.desc = desc
	d.enterNormalMode()
	return nil
}

func (d *Device) enterDebugMode() {
	_ = d.conn.write(regDebugMode, nil, modeTimeout)
}

// enterNormalMode switches to normal reporting and waits for the mode
// switch to settle.
func (d *Device) enterNormalMode() {
	_ = d.conn.write(regNormalMode, nil, modeTimeout)
	d.opts.Sleep(10 * time.Millisecond)
}
