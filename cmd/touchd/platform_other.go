//go:build !linux

package main

import (
	"errors"
	"image"

	"touchlcd.dev/driver/cst328"
)

var errUnsupported = errors.New("not supported on this platform; use -replay")

func openBus(kind string) (cst328.Opener, error) {
	return nil, errUnsupported
}

func openResetPin(name string) (cst328.OutputPin, error) {
	return nil, errUnsupported
}

func openIntPin(name string) (cst328.InputPin, error) {
	return nil, errUnsupported
}

func openDisplay() (display, error) {
	return nil, errUnsupported
}

func openPointer(name string, dims image.Point) (pointer, error) {
	return nil, errUnsupported
}
