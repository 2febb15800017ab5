//go:build linux

// Package lcd drives the ST7789 240x320 panel that shares a board with
// the touch controller, over SPI.
package lcd

import (
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
	"touchlcd.dev/rgb16"
)

type LCD struct {
	dims      image.Point
	spi       spi.PortCloser
	conn      spi.Conn
	window    image.Rectangle
	txBuf     []byte
	backlight bool
}

func (l *LCD) Close() {
	LCD_BL.Out(gpio.Low)
	l.spi.Close()
	l.spi = nil
	l.conn = nil
}

const (
	lcdWidth  = 240
	lcdHeight = 320
)

// Open initializes the panel on the SPI port named port, or the first
// available port if empty.
func Open(port string) (*LCD, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lcd: %w", err)
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("lcd: %w", err)
	}
	c, err := p.Connect(40*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("lcd: %w", err)
	}

	lcd := &LCD{
		dims: image.Pt(lcdWidth, lcdHeight),
		spi:  p,
		conn: c,
	}
	maxTx := 4096
	if lim, ok := c.(conn.Limits); ok {
		maxTx = lim.MaxTxSize()
	}
	lcd.txBuf = make([]byte, maxTx)
	if err := lcd.setup(); err != nil {
		lcd.Close()
		return nil, err
	}
	return lcd, nil
}

var (
	LCD_CS  = bcm283x.GPIO8
	LCD_RST = bcm283x.GPIO27
	LCD_DC  = bcm283x.GPIO25
	LCD_BL  = bcm283x.GPIO18
)

func (l *LCD) sendCommand(cmd byte, data ...byte) error {
	LCD_DC.FastOut(gpio.Low)
	if err := l.conn.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) > 0 {
		LCD_DC.FastOut(gpio.High)
		if err := l.conn.Tx(data, nil); err != nil {
			return err
		}
	}
	return nil
}

func (l *LCD) setup() error {
	for _, p := range []gpio.PinOut{LCD_CS, LCD_RST, LCD_DC} {
		if err := p.Out(gpio.High); err != nil {
			return fmt.Errorf("lcd: %w", err)
		}
	}
	LCD_BL.Out(gpio.Low)

	LCD_RST.FastOut(gpio.Low)
	time.Sleep(10 * time.Millisecond)
	LCD_RST.FastOut(gpio.High)
	time.Sleep(120 * time.Millisecond)

	var cmdErr error
	sendCommand := func(cmd byte, data ...byte) {
		if cmdErr != nil {
			return
		}
		cmdErr = l.sendCommand(cmd, data...)
	}
	// Portrait scanout, RGB order.
	sendCommand(0x36 /*MADCTL*/, 0x00)
	sendCommand(0x11 /*SLPOUT*/)
	time.Sleep(120 * time.Millisecond)
	sendCommand(0x3a /*COLMOD*/, 0x05)
	sendCommand(0xb2 /*PORCTRL*/, 0x0c, 0x0c, 0x00, 0x33, 0x33)
	sendCommand(0xb7 /*GCTRL*/, 0x35)
	sendCommand(0xbb /*VCOMS*/, 0x1f)
	sendCommand(0xc0 /*LCMCTRL*/, 0x2c)
	sendCommand(0xc2 /*VDVVRHEN*/, 0x01)
	sendCommand(0xc3 /*VRHS*/, 0x12)
	sendCommand(0xc4 /*VDVS*/, 0x20)
	sendCommand(0xc6 /*FRCTRL2*/, 0x0f)
	sendCommand(0xd0 /*PWCTRL1*/, 0xa4, 0xa1)
	sendCommand(0x21 /*INVON*/)
	sendCommand(0x29 /*DISPON*/)
	if cmdErr != nil {
		return fmt.Errorf("lcd: SPI command: %w", cmdErr)
	}
	return nil
}

func (l *LCD) Dims() image.Point {
	return l.dims
}

// Draw transfers the sr part of img to the panel.
func (l *LCD) Draw(img *rgb16.Image, sr image.Rectangle) error {
	sr = sr.Intersect(img.Bounds()).Intersect(image.Rectangle{Max: l.dims})
	if sr.Empty() {
		return nil
	}
	if err := l.setWindow(sr); err != nil {
		return fmt.Errorf("lcd: window: %w", err)
	}
	LCD_DC.FastOut(gpio.High)

	rowLen := sr.Dx() * 2
	n := 0
	flush := func() error {
		if n == 0 {
			return nil
		}
		err := l.conn.Tx(l.txBuf[:n], nil)
		n = 0
		return err
	}
	for y := sr.Min.Y; y < sr.Max.Y; y++ {
		row := img.Pix[img.PixOffset(sr.Min.X, y):][:rowLen]
		for len(row) > 0 {
			c := copy(l.txBuf[n:], row)
			row = row[c:]
			n += c
			if n == len(l.txBuf) {
				if err := flush(); err != nil {
					return fmt.Errorf("lcd: blit: %w", err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("lcd: blit: %w", err)
	}

	if !l.backlight {
		LCD_BL.Out(gpio.High)
		l.backlight = true
	}
	return nil
}

// setWindow restricts the following memory write to r. RAMWR is
// always sent to restart at the top left corner of the window.
func (l *LCD) setWindow(r image.Rectangle) error {
	var cmdErr error
	sendCommand := func(cmd byte, data ...byte) {
		if cmdErr != nil {
			return
		}
		cmdErr = l.sendCommand(cmd, data...)
	}
	if l.window != r {
		sendCommand(0x2a /* CASET */, byte(r.Min.X>>8), byte(r.Min.X), byte((r.Max.X-1)>>8), byte(r.Max.X-1))
		sendCommand(0x2b /* RASET */, byte(r.Min.Y>>8), byte(r.Min.Y), byte((r.Max.Y-1)>>8), byte(r.Max.Y-1))
	}
	sendCommand(0x2c /* RAMWR */)
	if cmdErr != nil {
		l.window = image.Rectangle{}
		return cmdErr
	}
	l.window = r
	return nil
}
