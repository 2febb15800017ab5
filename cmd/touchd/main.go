// command touchd runs the CST328 touch controller of a 240x320 LCD
// board and forwards touches to the host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"touchlcd.dev/driver/console"
	"touchlcd.dev/driver/cst328"
	"touchlcd.dev/input"
	"touchlcd.dev/overlay"
	"touchlcd.dev/rgb16"
	"touchlcd.dev/touch"
	"touchlcd.dev/trace"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

var (
	busKind    = flag.String("bus", "periph", "bus backend, periph or i2cdev")
	ports      = flag.String("ports", strings.Join(cst328.DefaultPorts, ","), "comma separated bus ports to probe, in order")
	rotate     = flag.Int("rotate", 90, "panel rotation in degrees clockwise")
	resetPin   = flag.String("reset", "", "gpio connected to the controller reset line")
	irqPin     = flag.String("int", "", "gpio connected to the controller interrupt line (default: poll unconditionally)")
	width      = flag.Int("width", 0, "display width (default from the lcd)")
	height     = flag.Int("height", 0, "display height (default from the lcd)")
	period     = flag.Duration("period", 20*time.Millisecond, "poll period")
	useUinput  = flag.Bool("uinput", false, "publish touches as a virtual touchscreen")
	showCursor = flag.Bool("overlay", false, "draw a debug cursor on the lcd")
	consoleDev = flag.String("console", "", "serial device for the diagnostics console")
	recordFile = flag.String("record", "", "record bus transactions to file")
	replayFile = flag.String("replay", "", "replay bus transactions from file instead of the hardware")
	seed       = flag.String("seed", "", "initial calibration bounds x0,x1,y0,y1")
	scan       = flag.Bool("scan", false, "log the devices answering near the controller address")
	verbose    = flag.Bool("v", false, "verbose driver diagnostics")
)

// fallbackDims is used when neither flags nor a display determine the
// display geometry.
var fallbackDims = image.Pt(240, 320)

const cursorRefresh = 200 * time.Millisecond

type display interface {
	Dims() image.Point
	Draw(img *rgb16.Image, r image.Rectangle) error
	Close()
}

type pointer interface {
	Send(e input.PointerEvent) error
	Close() error
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "touchd: %v\n", err)
		os.Exit(2)
	}
}

func run() (ferr error) {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	ver := Version
	if ver == "" {
		ver = os.Getenv("touchd_version")
	}
	rot, err := touch.ParseRotation(*rotate)
	if err != nil {
		return err
	}
	opts := cst328.Options{
		Rotation:      rot,
		ScanAddresses: *scan,
		Verbose:       *verbose,
	}
	if *seed != "" {
		b, err := parseBounds(*seed)
		if err != nil {
			return fmt.Errorf("-seed: %w", err)
		}
		opts.Seed = b
	}

	var cons io.ReadWriteCloser
	if *consoleDev != "" {
		cons, err = console.Open(*consoleDev)
		if err != nil {
			return err
		}
		defer cons.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, cons))
	}
	log.Printf("touchd %s", ver)

	var disp display
	if *showCursor {
		disp, err = openDisplay()
		if err != nil {
			return err
		}
		defer disp.Close()
	}
	dims := fallbackDims
	if disp != nil {
		dims = disp.Dims()
	}
	if *width > 0 {
		dims.X = *width
	}
	if *height > 0 {
		dims.Y = *height
	}

	var open cst328.Opener
	var replayer *trace.Replayer
	if *replayFile != "" {
		replayer, err = loadReplay(*replayFile)
		if err != nil {
			return err
		}
		open = func(string, uint32) (cst328.Bus, error) {
			return replayer, nil
		}
	} else {
		open, err = openBus(*busKind)
		if err != nil {
			return err
		}
		if *resetPin != "" {
			opts.Reset, err = openResetPin(*resetPin)
			if err != nil {
				return err
			}
		}
		if *irqPin != "" {
			opts.Interrupt, err = openIntPin(*irqPin)
			if err != nil {
				return err
			}
		}
	}
	if *recordFile != "" {
		rec := new(trace.Recorder)
		hw := open
		open = func(port string, hz uint32) (cst328.Bus, error) {
			b, err := hw(port, hz)
			if err != nil {
				return nil, err
			}
			return rec.Wrap(port, b), nil
		}
		defer func() {
			if err := writeRecord(*recordFile, rec); ferr == nil {
				ferr = err
			}
		}()
	}

	// mu is the coarse lock serializing polls with rendering and the
	// console.
	mu := new(sync.Mutex)
	indev := input.NewIndev(dims, mu)
	dev := cst328.New(open, opts)
	dev.Init(indev, strings.Split(*ports, ",")...)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if err := dev.Close(); err != nil {
			log.Printf("touchd: %v", err)
		}
	}()

	var ptr pointer
	if *useUinput {
		ptr, err = openPointer("cst328 touchscreen", dims)
		if err != nil {
			return err
		}
		defer ptr.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cons != nil {
		go func() {
			err := console.Serve(cons, consoleHandlers(mu, dev, ver))
			if err != nil {
				log.Printf("touchd: %v", err)
			}
		}()
	}

	events := make(chan input.PointerEvent)
	errc := make(chan error, 1)
	go func() {
		errc <- input.Run(ctx, indev, *period, events)
	}()

	var cursor *overlay.Cursor
	var fb *rgb16.Image
	var refresh <-chan time.Time
	if disp != nil {
		cursor = new(overlay.Cursor)
		fb = rgb16.New(image.Rectangle{Max: disp.Dims()})
		mu.Lock()
		err := disp.Draw(fb, fb.Bounds())
		mu.Unlock()
		if err != nil {
			return err
		}
		t := time.NewTicker(cursorRefresh)
		defer t.Stop()
		refresh = t.C
	}
	var exhausted <-chan time.Time
	if replayer != nil {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		exhausted = t.C
	}

	var damage image.Rectangle
	for {
		select {
		case e := <-events:
			if *verbose {
				log.Printf("touchd: %v", e)
			}
			if cons != nil {
				fmt.Fprintf(cons, "touch: %v\n", e)
			}
			if ptr != nil {
				if err := ptr.Send(e); err != nil {
					log.Printf("touchd: %v", err)
				}
			}
			if cursor != nil {
				damage = damage.Union(cursor.Update(e))
			}
		case <-refresh:
			if damage.Empty() {
				break
			}
			mu.Lock()
			fb.Fill(damage, color.Black)
			cursor.Draw(fb)
			err := disp.Draw(fb, damage)
			mu.Unlock()
			if err != nil {
				log.Printf("touchd: %v", err)
			}
			damage = image.Rectangle{}
		case <-exhausted:
			mu.Lock()
			n := replayer.Remaining()
			mu.Unlock()
			if n == 0 {
				log.Printf("touchd: replay finished")
				stop()
			}
		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func consoleHandlers(mu sync.Locker, dev *cst328.Device, ver string) map[string]console.Handler {
	locked := func(f func(w io.Writer)) console.Handler {
		return func(w io.Writer) {
			mu.Lock()
			defer mu.Unlock()
			f(w)
		}
	}
	return map[string]console.Handler{
		"version": func(w io.Writer) {
			fmt.Fprintf(w, "touchd %s\n", ver)
		},
		"device": locked(func(w io.Writer) {
			desc, ok := dev.Descriptor()
			if !ok {
				fmt.Fprintf(w, "%v\n", dev.State())
				return
			}
			fmt.Fprintf(w, "%v port=%s addr=%#02x xmax=%d ymax=%d\n", dev.State(), desc.Port, desc.Addr, desc.XMax, desc.YMax)
		}),
		"stats": locked(func(w io.Writer) {
			s := dev.Stats()
			fmt.Fprintf(w, "polls=%d presses=%d bus_errors=%d alignment_warnings=%d counted=%d legacy=%d\n",
				s.Polls, s.Presses, s.BusErrors, s.AlignmentWarnings, s.Counted, s.Legacy)
		}),
		"bounds": locked(func(w io.Writer) {
			fmt.Fprintln(w, dev.Bounds())
		}),
	}
}

// parseBounds parses "x0,x1,y0,y1" into valid bounds.
func parseBounds(s string) (touch.Bounds, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return touch.Bounds{}, fmt.Errorf("%q: want x0,x1,y0,y1", s)
	}
	var v [4]uint16
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
		if err != nil {
			return touch.Bounds{}, fmt.Errorf("%q: %w", s, err)
		}
		v[i] = uint16(n)
	}
	if v[0] >= v[1] || v[2] >= v[3] {
		return touch.Bounds{}, fmt.Errorf("%q: empty range", s)
	}
	return touch.Bounds{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3], Valid: true}, nil
}

func loadReplay(name string) (*trace.Replayer, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := trace.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return trace.NewReplayer(records), nil
}

func writeRecord(name string, rec *trace.Recorder) (ferr error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); ferr == nil {
			ferr = err
		}
	}()
	if _, err := rec.WriteTo(f); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Printf("touchd: recorded %d transactions to %s", len(rec.Records()), name)
	return nil
}
