package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSimulatorClosesAfterLimit(t *testing.T) {
	sim := NewSimulator(32, 24, 1000, 3)
	defer sim.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		img, err := sim.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
	}
	if _, err := sim.Read(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after limit, got %v", err)
	}
	if _, err := sim.Read(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed source reopened: %v", err)
	}
}

func TestSimulatorHonoursContextAndClose(t *testing.T) {
	sim := NewSimulator(8, 8, 0.5, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sim.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	if err := sim.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sim.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestSimulatorFramesMove(t *testing.T) {
	sim := NewSimulator(64, 48, 1000, 0)
	defer sim.Close()

	a, err := sim.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := sim.Read(context.Background()); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	b, err := sim.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	same := true
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("simulated frames did not change")
	}
}
