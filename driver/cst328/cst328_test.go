package cst328

import (
	"errors"
	"image"
	"slices"
	"testing"
	"time"

	"touchlcd.dev/input"
	"touchlcd.dev/touch"
)

func newDevice(ports map[string]*fakeBus, opts Options) (*Device, *fakePorts, *logger) {
	p := &fakePorts{buses: ports}
	l := new(logger)
	opts.Logf = l.logf
	if opts.Sleep == nil {
		opts.Sleep = noSleep
	}
	return New(p.open, opts), p, l
}

func newOnline(t *testing.T, bus *fakeBus, opts Options) *Device {
	t.Helper()
	d, _, _ := newDevice(map[string]*fakeBus{"1": bus}, opts)
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	d.SetDisplay(image.Pt(320, 240))
	return d
}

func TestProbePrimary(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d, _, l := newDevice(map[string]*fakeBus{"1": bus}, Options{})
	if err := d.Probe("1", "0"); err != nil {
		t.Fatal(err)
	}
	if d.State() != Online {
		t.Fatalf("state %v, want online", d.State())
	}
	desc, ok := d.Descriptor()
	want := Descriptor{Port: "1", Addr: addrPrimary, XMax: 240, YMax: 320}
	if !ok || desc != want {
		t.Errorf("descriptor %+v, want %+v", desc, want)
	}
	if bus.wrote(regDebugMode) != 1 || bus.wrote(regNormalMode) == 0 {
		t.Errorf("mode switches missing: %v", bus.writes)
	}
	for _, w := range bus.writes {
		if len(w.Data) != 0 {
			t.Errorf("mode switch %#04x carried payload %x", w.Reg, w.Data)
		}
	}
	if !l.contains("touch online") {
		t.Errorf("no online log in %q", l.lines)
	}
}

func TestProbeFallbackAddress(t *testing.T) {
	bus := newFakeBus(addrFallback)
	d, _, _ := newDevice(map[string]*fakeBus{"1": bus}, Options{})
	if err := d.Probe("1", "0"); err != nil {
		t.Fatal(err)
	}
	if desc, _ := d.Descriptor(); desc.Addr != addrFallback || desc.Port != "1" {
		t.Errorf("descriptor %+v", desc)
	}
}

func TestProbeSecondaryPort(t *testing.T) {
	first := newFakeBus(0x30)
	second := newFakeBus(addrPrimary)
	d, p, l := newDevice(map[string]*fakeBus{"1": first, "0": second}, Options{})
	if err := d.Probe("1", "0"); err != nil {
		t.Fatal(err)
	}
	if desc, _ := d.Descriptor(); desc.Port != "0" || desc.Addr != addrPrimary {
		t.Errorf("descriptor %+v", desc)
	}
	if !first.closed {
		t.Error("first bus not closed before retrying")
	}
	if want := []string{"1", "0"}; !slices.Equal(p.opened, want) {
		t.Errorf("opened ports %v, want %v", p.opened, want)
	}
	if !l.contains("retry on port 0") {
		t.Errorf("no retry log in %q", l.lines)
	}
}

func TestProbeMissingYResolution(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	bus.fail[regResY] = true
	d, _, l := newDevice(map[string]*fakeBus{"1": bus}, Options{})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	desc, ok := d.Descriptor()
	if !ok || desc.XMax != 240 || desc.YMax != 0 {
		t.Errorf("descriptor %+v, online %v", desc, ok)
	}
	if !l.contains("y resolution") {
		t.Errorf("no warning in %q", l.lines)
	}
}

func TestProbeTwice(t *testing.T) {
	d := newOnline(t, newFakeBus(addrPrimary), Options{})
	if err := d.Probe("1"); err == nil {
		t.Error("second probe succeeded")
	}
}

func TestAbsent(t *testing.T) {
	ports := map[string]*fakeBus{
		"1": newFakeBus(0x30),
		"0": newFakeBus(0x31),
	}
	d, p, l := newDevice(ports, Options{ScanAddresses: true})
	indev := input.NewIndev(image.Pt(320, 240), nil)
	d.Init(indev)
	if d.State() != Absent {
		t.Fatalf("state %v, want absent", d.State())
	}
	if _, ok := d.Descriptor(); ok {
		t.Error("absent device reports a descriptor")
	}
	if !l.contains("continuing without touch") {
		t.Errorf("no absence log in %q", l.lines)
	}
	if !l.contains("bus scan (port=0") {
		t.Errorf("no scan of the secondary port in %q", l.lines)
	}
	probeTxs := p.txs()
	for i := 0; i < 100; i++ {
		if e := indev.Read(); e.Pressed {
			t.Fatalf("poll %d: %v", i, e)
		}
	}
	if n := p.txs(); n != probeTxs {
		t.Errorf("%d bus transactions after probing", n-probeTxs)
	}
	if d.Bounds().Valid {
		t.Error("absent device calibrated")
	}
	if got := d.Stats().Polls; got != 100 {
		t.Errorf("%d polls counted, want 100", got)
	}
}

func TestProbeNotFoundError(t *testing.T) {
	d, _, _ := newDevice(map[string]*fakeBus{}, Options{})
	if err := d.Probe("1", "0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("probe error %v, want ErrNotFound", err)
	}
}

type pinEvent struct {
	high  bool
	sleep time.Duration
}

type recorder struct {
	events []pinEvent
}

func (r *recorder) High() { r.events = append(r.events, pinEvent{high: true}) }
func (r *recorder) Low()  { r.events = append(r.events, pinEvent{high: false}) }

func (r *recorder) sleep(d time.Duration) {
	r.events = append(r.events, pinEvent{sleep: d})
}

func (r *recorder) first(n int) []pinEvent {
	return r.events[:min(n, len(r.events))]
}

func TestResetSequence(t *testing.T) {
	rec := new(recorder)
	d, _, _ := newDevice(map[string]*fakeBus{"1": newFakeBus(addrPrimary)}, Options{
		Reset: rec,
		Sleep: rec.sleep,
	})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	want := []pinEvent{
		{high: false},
		{sleep: 10 * time.Millisecond},
		{high: true},
		{sleep: 100 * time.Millisecond},
	}
	if got := rec.first(4); !slices.Equal(got, want) {
		t.Errorf("reset sequence %v, want %v", got, want)
	}

	rec = new(recorder)
	d, _, _ = newDevice(map[string]*fakeBus{"1": newFakeBus(addrPrimary)}, Options{
		Sleep: rec.sleep,
	})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	if got := rec.first(1); !slices.Equal(got, []pinEvent{{sleep: 50 * time.Millisecond}}) {
		t.Errorf("unwired reset %v", got)
	}
}

func TestTimeouts(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{})
	for _, to := range bus.timeouts {
		if to != modeTimeout && to != probeTimeout {
			t.Errorf("probe used timeout %v", to)
		}
	}
	if !slices.Contains(bus.timeouts, probeTimeout) || !slices.Contains(bus.timeouts, modeTimeout) {
		t.Errorf("probe timeouts %v", bus.timeouts)
	}
	bus.timeouts = nil
	d.Poll()
	for _, to := range bus.timeouts {
		if to != dataTimeout {
			t.Errorf("poll used timeout %v", to)
		}
	}
}

func TestPayloadTooLarge(t *testing.T) {
	c := &conn{bus: newFakeBus(addrPrimary), addr: addrPrimary}
	if err := c.write(regTouchCount, make([]byte, maxWrite+1), dataTimeout); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized write error %v", err)
	}
	if err := c.write(regTouchCount, make([]byte, maxWrite), dataTimeout); err != nil {
		t.Errorf("maximum write: %v", err)
	}
}

func TestBusErrorWrapped(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	bus.fail[regTouchData] = true
	c := &conn{bus: bus, addr: addrPrimary}
	err := c.read(regTouchData, make([]byte, 8), dataTimeout)
	if !errors.Is(err, ErrBus) || !errors.Is(err, errNACK) {
		t.Errorf("read error %v does not wrap ErrBus and the cause", err)
	}
}

func TestPollMapsIntoDisplay(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{Rotation: touch.Rotate90})
	press := func(x, y uint16) input.PointerEvent {
		bus.regs[regTouchCount] = []byte{0x01}
		bus.regs[regTouchData] = payload(countedLen, 0, byte(x>>4), byte(y>>4), byte(x&0xf)<<4|byte(y&0xf))
		return d.Poll()
	}
	// A single sample has no span; it normalizes to the origin.
	if got, want := press(100, 200), (input.PointerEvent{Pressed: true, Pos: image.Pt(0, 239)}); got != want {
		t.Errorf("first press %v, want %v", got, want)
	}
	if got, want := press(300, 500), (input.PointerEvent{Pressed: true, Pos: image.Pt(319, 0)}); got != want {
		t.Errorf("second press %v, want %v", got, want)
	}
	want := touch.Bounds{XMin: 100, XMax: 300, YMin: 200, YMax: 500, Valid: true}
	if b := d.Bounds(); b != want {
		t.Errorf("bounds %v, want %v", b, want)
	}
	if got, want := press(200, 350), (input.PointerEvent{Pressed: true, Pos: image.Pt(159, 120)}); got != want {
		t.Errorf("center press %v, want %v", got, want)
	}
	if s := d.Stats(); s.Presses != 3 || s.Counted != 3 {
		t.Errorf("stats %+v", s)
	}
}

func TestIdempotentRelease(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{})
	bus.regs[regTouchCount] = []byte{0x00}
	bus.regs[regTouchData] = payload(countedLen)
	for i := 0; i < 50; i++ {
		if e := d.Poll(); e.Pressed {
			t.Fatalf("poll %d: %v", i, e)
		}
	}
	if d.Bounds().Valid {
		t.Errorf("release calibrated bounds to %v", d.Bounds())
	}
}

func TestSeedBounds(t *testing.T) {
	seed := touch.Bounds{XMin: 1, XMax: 239, YMin: 6, YMax: 298, Valid: true}
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{Seed: seed})
	bus.regs[regTouchCount] = []byte{0x01}
	bus.regs[regTouchData] = payload(countedLen, 0, 239>>4, 298>>4, (239&0xf)<<4|298&0xf)
	if e := d.Poll(); e.Pos != image.Pt(319, 239) {
		t.Errorf("seeded press %v", e)
	}
	if d.Bounds() != seed {
		t.Errorf("bounds %v, want %v", d.Bounds(), seed)
	}
}

func TestBusErrorReleases(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{})
	bus.regs[regTouchCount] = []byte{0x01}
	bus.fail[regTouchData] = true
	if e := d.Poll(); e.Pressed {
		t.Errorf("failed read reported %v", e)
	}
	if s := d.Stats(); s.BusErrors != 1 {
		t.Errorf("stats %+v", s)
	}
	if d.State() != Online {
		t.Errorf("bus error moved device to %v", d.State())
	}
	// The next poll retries the bus.
	delete(bus.fail, regTouchData)
	bus.regs[regTouchData] = payload(countedLen, 0, 0x05, 0x03, 0xa1)
	if e := d.Poll(); !e.Pressed {
		t.Errorf("poll after recovery %v", e)
	}
}

type level bool

func (l *level) Get() bool { return bool(*l) }

func TestInterruptGate(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	line := level(true)
	d := newOnline(t, bus, Options{Interrupt: &line})
	bus.regs[regTouchCount] = []byte{0x01}
	bus.regs[regTouchData] = payload(countedLen, 0, 0x05, 0x03, 0xa1)
	txs := bus.txs
	if e := d.Poll(); e.Pressed || bus.txs != txs {
		t.Errorf("idle interrupt line: %v, %d transactions", e, bus.txs-txs)
	}
	line = false
	if e := d.Poll(); !e.Pressed {
		t.Errorf("asserted interrupt line: %v", e)
	}
}

func TestClose(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{})
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !bus.closed || d.State() != Absent {
		t.Errorf("closed=%v state=%v", bus.closed, d.State())
	}
	if e := d.Poll(); e.Pressed {
		t.Errorf("poll after close %v", e)
	}
}

// txOnlyBus hides the timeout support of a fakeBus.
type txOnlyBus struct {
	b *fakeBus
}

func (t txOnlyBus) Tx(addr uint16, w, r []byte) error {
	return t.b.Tx(addr, w, r)
}

func TestProbeWarnsWithoutTimeouts(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	l := new(logger)
	open := func(string, uint32) (Bus, error) {
		return txOnlyBus{bus}, nil
	}
	d := New(open, Options{Logf: l.logf, Sleep: noSleep})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	if !l.contains("cannot bound transactions") {
		t.Errorf("no timeout warning in %q", l.lines)
	}

	d, _, l = newDevice(map[string]*fakeBus{"1": newFakeBus(addrPrimary)}, Options{})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	if l.contains("cannot bound transactions") {
		t.Errorf("timeout warning for a bus with timeouts: %q", l.lines)
	}
}

func TestNormalModeSettles(t *testing.T) {
	rec := new(recorder)
	bus := newFakeBus(addrPrimary)
	d, _, _ := newDevice(map[string]*fakeBus{"1": bus}, Options{Sleep: rec.sleep})
	if err := d.Probe("1"); err != nil {
		t.Fatal(err)
	}
	settles := 0
	for _, e := range rec.events {
		if e.sleep == 10*time.Millisecond {
			settles++
		}
	}
	// Once after reading the resolution and once after going online.
	if n := bus.wrote(regNormalMode); n != 2 || settles != n {
		t.Errorf("%d normal mode switches, %d settle delays (%v)", n, settles, rec.events)
	}
}

func TestAttachFailureKeepsDevice(t *testing.T) {
	bus := newFakeBus(addrPrimary)
	d := newOnline(t, bus, Options{})
	want, _ := d.Descriptor()
	if err := d.attach("1", 0x30); err == nil {
		t.Fatal("attach to a silent address succeeded")
	}
	if d.conn.addr != addrPrimary {
		t.Errorf("address %#02x after failed attach, want %#02x", d.conn.addr, addrPrimary)
	}
	if desc, ok := d.Descriptor(); !ok || desc != want {
		t.Errorf("descriptor %+v after failed attach, want %+v", desc, want)
	}
	bus.regs[regTouchCount] = []byte{0x01}
	bus.regs[regTouchData] = payload(countedLen, 0, 0x05, 0x03, 0xa1)
	if e := d.Poll(); !e.Pressed {
		t.Errorf("poll after failed attach %v", e)
	}
}
