// package input implements the pointer input abstraction of the host
// user interface. A pointer device registers a read callback which the
// host polls on its own schedule.
package input

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// PointerEvent is the state of a pointer in display coordinates.
type PointerEvent struct {
	Pressed bool
	Pos     image.Point
}

func (e PointerEvent) String() string {
	state := "released"
	if e.Pressed {
		state = "pressed"
	}
	return fmt.Sprintf("%s (%d,%d)", state, e.Pos.X, e.Pos.Y)
}

// Indev is a pointer input device bound to a display.
type Indev struct {
	dims image.Point
	// lock is the host's coarse lock, held while the device is read.
	lock sync.Locker
	read func() PointerEvent
	last PointerEvent
}

// NewIndev creates a pointer device for a display of the given
// dimensions. Reads are serialized by lock, which the host also
// holds while rendering. A nil lock creates a private one.
func NewIndev(dims image.Point, lock sync.Locker) *Indev {
	if lock == nil {
		lock = new(sync.Mutex)
	}
	return &Indev{
		dims: dims,
		lock: lock,
	}
}

// Dims returns the dimensions of the display the device is bound to.
func (d *Indev) Dims() image.Point {
	return d.dims
}

// SetReadFunc registers the callback that reports the pointer state.
func (d *Indev) SetReadFunc(f func() PointerEvent) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.read = f
}

// Read polls the device once. Released events carry the position of
// the last press.
func (d *Indev) Read() PointerEvent {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.read == nil {
		return PointerEvent{Pos: d.last.Pos}
	}
	e := d.read()
	if !e.Pressed {
		e.Pos = d.last.Pos
	}
	d.last = e
	return e
}

// Run polls d every period until ctx is done and sends presses,
// releases and moves while pressed to ch. Unchanged states are
// dropped.
func Run(ctx context.Context, d *Indev, period time.Duration, ch chan<- PointerEvent) error {
	t := time.NewTicker(period)
	defer t.Stop()
	var last PointerEvent
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		e := d.Read()
		if e.Pressed == last.Pressed && (!e.Pressed || e.Pos == last.Pos) {
			continue
		}
		last = e
		select {
		case ch <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
