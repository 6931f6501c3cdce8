package sensors

import (
	"context"
	"math"
	"sync"
)

// Fake sensors produce deterministic data for bring-up without hardware and
// for tests. Each call advances an internal tick.

type FakeCamera struct {
	Width  int
	Height int

	mu   sync.Mutex
	tick int
}

func (c *FakeCamera) Image() (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, h := c.Width, c.Height
	if w <= 0 {
		w = 128
	}
	if h <= 0 {
		h = 64
	}
	c.tick++
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(i + c.tick)
	}
	return Image{Width: w, Height: h, Pix: pix}, true
}

type FakeLidar struct {
	// RangeM is the nominal wall distance. Zero means 2 m.
	RangeM float64

	mu   sync.Mutex
	tick int
}

func (l *FakeLidar) Scan(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.RangeM
	if r <= 0 {
		r = 2
	}
	l.tick++
	out := make([]float64, ScanSize)
	for i := range out {
		// Every 30th bin has no return.
		if (i+l.tick)%30 == 0 {
			continue
		}
		out[i] = r + 0.25*math.Sin(float64(i+l.tick)*math.Pi/90)
	}
	return out, nil
}

type FakeSonde struct {
	mu   sync.Mutex
	tick int
}

func (s *FakeSonde) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	t := float64(s.tick)
	return Reading{
		"DO (sat)":     95 + math.Mod(t, 5),
		"DO (mg/l)":    7.8,
		"Temp (C)":     27.5 + 0.01*t,
		"Cond (muS/l)": 512.0,
		"sal (psu)":    0.25,
		"Depth (m)":    0.4,
	}, nil
}
