package cst328

import (
	"errors"

	"touchlcd.dev/touch"
)

// errNext signals that a decoder has no verdict and the next decoder
// in line should be tried.
var errNext = errors.New("cst328: try next decoder")

// A decoder reads one touch report. It returns errNext to defer to
// the next decoder.
type decoder func(d *Device) (touch.Sample, error)

// decoders in order of priority.
var decoders = [...]decoder{
	(*Device).decodeCounted,
	(*Device).decodeLegacy,
}

// decode reads one touch sample. Any returned error is a bus error.
func (d *Device) decode() (touch.Sample, error) {
	for _, dec := range decoders {
		s, err := dec(d)
		if errors.Is(err, errNext) {
			continue
		}
		return s, err
	}
	return touch.Sample{}, nil
}

// decodeCounted reads the touch count register and, if at least one
// touch is reported, the full touch payload. A count of zero is
// acknowledged but deferred to the legacy decoder, because some
// controllers report a stale zero count while the data buffer still
// holds a valid touch.
func (d *Device) decodeCounted() (touch.Sample, error) {
	cnt := d.buf[:1]
	if err := d.conn.read(regTouchCount, cnt, dataTimeout); err != nil {
		return touch.Sample{}, errNext
	}
	n := int(cnt[0] & 0x0f)
	if n < 1 || n > maxTouches {
		d.ack()
		return touch.Sample{}, errNext
	}
	buf := d.buf[:countedLen]
	if err := d.conn.read(regTouchData, buf, dataTimeout); err != nil {
		return touch.Sample{}, err
	}
	d.checkAlignment("counted", buf)
	d.ack()
	d.stats.Counted++
	s := parseSample(buf)
	if d.opts.Verbose {
		d.opts.Logf("cst328: payload % x ...", buf[:legacyLen])
		d.opts.Logf("cst328: raw(counted): cnt=%d x=%d y=%d", n, s.X, s.Y)
	}
	return s, nil
}

// decodeLegacy reads the fixed 8 byte touch buffer and decides the
// touch state from its status nibble.
func (d *Device) decodeLegacy() (touch.Sample, error) {
	buf := d.buf[:legacyLen]
	if err := d.conn.read(regTouchData, buf, dataTimeout); err != nil {
		return touch.Sample{}, err
	}
	if buf[0]&0x0f != pressedStatus {
		return touch.Sample{}, nil
	}
	d.checkAlignment("legacy", buf)
	d.stats.Legacy++
	s := parseSample(buf)
	if d.opts.Verbose {
		d.opts.Logf("cst328: payload % x", buf)
		d.opts.Logf("cst328: raw(legacy): x=%d y=%d", s.X, s.Y)
	}
	return s, nil
}

// ack clears the touch count register.
func (d *Device) ack() {
	var zero [1]byte
	_ = d.conn.write(regTouchCount, zero[:], dataTimeout)
}

// checkAlignment warns if the payload does not carry the alignment
// sentinel. Decoding continues regardless.
func (d *Device) checkAlignment(path string, buf []byte) {
	if buf[6] == alignmentSentinel {
		return
	}
	d.stats.AlignmentWarnings++
	d.opts.Logf("cst328: warning: %s: alignment suspect: byte 6 is %#02x, expected %#02x", path, buf[6], alignmentSentinel)
}

// parseSample decodes the primary touch point. Each 12-bit coordinate
// is a high byte extended by a nibble of the shared byte 3.
func parseSample(b []byte) touch.Sample {
	return touch.Sample{
		X:       uint16(b[1])<<4 | uint16(b[3]>>4),
		Y:       uint16(b[2])<<4 | uint16(b[3]&0x0f),
		Pressed: true,
	}
}
