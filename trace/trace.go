// Package trace records and replays bus transactions. Transcripts are
// encoded in CBOR.
package trace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Bus is a two-wire bus.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// Record is a single bus transaction.
type Record struct {
	Port string `cbor:"1,keyasint,omitempty"`
	Addr uint16 `cbor:"2,keyasint"`
	W    []byte `cbor:"3,keyasint,omitempty"`
	R    []byte `cbor:"4,keyasint,omitempty"`
	// Err is the error text of a failed transaction.
	Err string `cbor:"5,keyasint,omitempty"`
}

var (
	ErrMismatch  = errors.New("trace: transaction mismatch")
	ErrExhausted = errors.New("trace: transcript exhausted")
)

// Recorder accumulates the transactions of the buses it wraps.
type Recorder struct {
	records []Record
}

// Wrap returns a bus that forwards to b and records every transaction
// under port.
func (r *Recorder) Wrap(port string, b Bus) *RecordingBus {
	return &RecordingBus{rec: r, port: port, bus: b}
}

func (r *Recorder) Records() []Record {
	return r.records
}

// WriteTo writes the transcript to w.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	enc, err := cbor.Marshal(r.records)
	if err != nil {
		return 0, fmt.Errorf("trace: %w", err)
	}
	n, err := w.Write(enc)
	return int64(n), err
}

// RecordingBus is a bus whose transactions are recorded.
type RecordingBus struct {
	rec  *Recorder
	port string
	bus  Bus
}

func (b *RecordingBus) Tx(addr uint16, w, r []byte) error {
	err := b.bus.Tx(addr, w, r)
	rec := Record{
		Port: b.port,
		Addr: addr,
		W:    bytes.Clone(w),
	}
	if err != nil {
		rec.Err = err.Error()
	} else {
		rec.R = bytes.Clone(r)
	}
	b.rec.records = append(b.rec.records, rec)
	return err
}

// SetTimeout forwards to the wrapped bus, if it supports timeouts.
func (b *RecordingBus) SetTimeout(d time.Duration) error {
	if tb, ok := b.bus.(interface{ SetTimeout(time.Duration) error }); ok {
		return tb.SetTimeout(d)
	}
	return nil
}

func (b *RecordingBus) Close() error {
	if c, ok := b.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Decode reads a transcript written by Recorder.WriteTo.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	if err := cbor.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return records, nil
}

// Replayer is a bus that answers transactions from a transcript, in
// order.
type Replayer struct {
	records []Record
	pos     int
}

func NewReplayer(records []Record) *Replayer {
	return &Replayer{records: records}
}

func (p *Replayer) Tx(addr uint16, w, r []byte) error {
	if p.pos == len(p.records) {
		return ErrExhausted
	}
	rec := p.records[p.pos]
	if rec.Addr != addr || !bytes.Equal(rec.W, w) || (rec.Err == "" && len(rec.R) != len(r)) {
		return fmt.Errorf("%w: record %d: got addr %#02x w=%x r[%d], recorded addr %#02x w=%x r[%d]",
			ErrMismatch, p.pos, addr, w, len(r), rec.Addr, rec.W, len(rec.R))
	}
	p.pos++
	if rec.Err != "" {
		return errors.New(rec.Err)
	}
	copy(r, rec.R)
	return nil
}

// Remaining returns the number of transactions not yet replayed.
func (p *Replayer) Remaining() int {
	return len(p.records) - p.pos
}
