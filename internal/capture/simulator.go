package capture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"
)

// Simulator produces synthetic frames at a fixed rate: a bright disc moving
// over a gradient. It stands in for a camera in debug runs.
type Simulator struct {
	width  int
	height int
	limit  int

	mu     sync.Mutex
	ticker *time.Ticker
	frame  int
	closed bool
}

// NewSimulator returns a source producing frames at fps. A positive limit
// closes the source after that many frames.
func NewSimulator(width, height int, fps float64, limit int) *Simulator {
	if fps <= 0 {
		fps = 10
	}
	return &Simulator{
		width:  width,
		height: height,
		limit:  limit,
		ticker: time.NewTicker(time.Duration(float64(time.Second) / fps)),
	}
}

func (s *Simulator) Read(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed || (s.limit > 0 && s.frame >= s.limit) {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ticker := s.ticker
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ticker.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	img := s.render(s.frame)
	s.frame++
	return img, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.ticker.Stop()
	}
	return nil
}

func (s *Simulator) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	phase := float64(n) / 30.0
	cx := float64(s.width)/2 + float64(s.width)/4*math.Cos(phase)
	cy := float64(s.height)/2 + float64(s.height)/4*math.Sin(phase)
	radius := float64(min(s.width, s.height)) / 8

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / max(s.width-1, 1)),
				G: uint8(y * 255 / max(s.height-1, 1)),
				B: 96,
				A: 255,
			}
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= radius*radius {
				c = color.RGBA{R: 240, G: 220, B: 200, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
