//go:build linux

package main

import (
	"fmt"
	"image"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"touchlcd.dev/driver/cst328"
	"touchlcd.dev/driver/i2cdev"
	"touchlcd.dev/driver/uinput"
	"touchlcd.dev/lcd"
)

func openBus(kind string) (cst328.Opener, error) {
	switch kind {
	case "periph":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("periph: %w", err)
		}
		return func(port string, hz uint32) (cst328.Bus, error) {
			b, err := i2creg.Open(port)
			if err != nil {
				return nil, err
			}
			if err := b.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
				b.Close()
				return nil, fmt.Errorf("%s: %w", b, err)
			}
			return b, nil
		}, nil
	case "i2cdev":
		// The i2c-dev interface cannot change the clock; the kernel
		// device tree determines it.
		return func(port string, hz uint32) (cst328.Bus, error) {
			b, err := i2cdev.Open(port)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", kind)
	}
}

// resetLine adapts a periph pin to the active low reset line.
type resetLine struct {
	gpio.PinOut
}

func (p resetLine) High() { p.Out(gpio.High) }
func (p resetLine) Low()  { p.Out(gpio.Low) }

func openResetPin(name string) (cst328.OutputPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("reset: no such gpio %q", name)
	}
	return resetLine{p}, nil
}

// intPin adapts a periph pin to the active low interrupt line.
type intPin struct {
	gpio.PinIn
}

func (p intPin) Get() bool { return p.Read() == gpio.High }

func openIntPin(name string) (cst328.InputPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("interrupt: no such gpio %q", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("interrupt: %w", err)
	}
	return intPin{p}, nil
}

func openDisplay() (display, error) {
	l, err := lcd.Open("")
	if err != nil {
		return nil, err
	}
	return l, nil
}

func openPointer(name string, dims image.Point) (pointer, error) {
	d, err := uinput.Open(name, dims)
	if err != nil {
		return nil, err
	}
	return d, nil
}
