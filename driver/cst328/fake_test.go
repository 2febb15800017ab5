package cst328

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errNACK = errors.New("nack")

type regWrite struct {
	Reg  uint16
	Data []byte
}

// fakeBus emulates a controller at addr with a register map.
type fakeBus struct {
	addr     uint16
	regs     map[uint16][]byte
	fail     map[uint16]bool
	writes   []regWrite
	txs      int
	timeouts []time.Duration
	closed   bool
}

func newFakeBus(addr uint16) *fakeBus {
	return &fakeBus{
		addr: addr,
		regs: map[uint16][]byte{
			regResX: {0xf0, 0x00}, // 240
			regResY: {0x40, 0x01}, // 320
		},
		fail: make(map[uint16]bool),
	}
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.txs++
	if b.closed {
		return errors.New("closed")
	}
	if addr != b.addr {
		return errNACK
	}
	if len(w) < 2 {
		clear(r)
		return nil
	}
	reg := uint16(w[0])<<8 | uint16(w[1])
	if b.fail[reg] {
		return errNACK
	}
	if len(r) == 0 {
		b.writes = append(b.writes, regWrite{reg, append([]byte{}, w[2:]...)})
		return nil
	}
	clear(r)
	copy(r, b.regs[reg])
	return nil
}

func (b *fakeBus) SetTimeout(d time.Duration) error {
	b.timeouts = append(b.timeouts, d)
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBus) wrote(reg uint16) int {
	n := 0
	for _, w := range b.writes {
		if w.Reg == reg {
			n++
		}
	}
	return n
}

// fakePorts is an Opener over a set of buses by port name.
type fakePorts struct {
	buses  map[string]*fakeBus
	opened []string
}

func (p *fakePorts) open(port string, hz uint32) (Bus, error) {
	p.opened = append(p.opened, port)
	if hz != busClock {
		return nil, fmt.Errorf("unexpected clock %d", hz)
	}
	b, ok := p.buses[port]
	if !ok {
		return nil, fmt.Errorf("no port %s", port)
	}
	return b, nil
}

func (p *fakePorts) txs() int {
	n := 0
	for _, b := range p.buses {
		n += b.txs
	}
	return n
}

type logger struct {
	lines []string
}

func (l *logger) logf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *logger) contains(s string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func noSleep(time.Duration) {}

// payload builds a touch data buffer with the alignment sentinel
// and the given leading bytes.
func payload(n int, head ...byte) []byte {
	b := make([]byte, n)
	if n > 6 {
		b[6] = alignmentSentinel
	}
	copy(b, head)
	return b
}
