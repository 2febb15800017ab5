//go:build !tinygo

// Package console serves diagnostic commands over a serial line.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/tarm/serial"
)

const baudRate = 115200

// Open opens the serial device dev, or the first available of the
// platform defaults when dev is empty.
func Open(dev string) (io.ReadWriteCloser, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyGS0", "/dev/ttyUSB0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("console: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baudRate}
		s, err := serial.OpenPort(c)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("console: %s: %w", dev, err)
		}
	}
	return nil, firstErr
}

// Handler writes the response to a command.
type Handler func(w io.Writer)

// Serve reads newline terminated commands from rw and runs the
// matching handler. Unknown commands are answered with the list of
// known ones. Serve returns when rw is exhausted or fails.
func Serve(rw io.ReadWriter, handlers map[string]Handler) error {
	r := bufio.NewReader(rw)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if h, ok := handlers[line]; ok {
				h(rw)
			} else {
				fmt.Fprintf(rw, "unknown command %q (known: %s)\n", line, strings.Join(commands(handlers), " "))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("console: %w", err)
		}
	}
}

func commands(handlers map[string]Handler) []string {
	var names []string
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
