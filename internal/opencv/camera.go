package opencv

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"

	"smilecam/internal/capture"
)

// Camera is a capture.Source backed by a local video device.
type Camera struct {
	device int
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

func OpenCamera(device, width, height int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &Camera{device: device, vc: vc, mat: gocv.NewMat()}, nil
}

// CameraOpener acquires the device lazily, once per stream.
func CameraOpener(device, width, height int) capture.Opener {
	return func() (capture.Source, error) {
		return OpenCamera(device, width, height)
	}
}

// Read blocks on the device. A failed read or an empty frame closes the source.
func (c *Camera) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.closed {
		return nil, capture.ErrClosed
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		c.closed = true
		return nil, capture.ErrClosed
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return toRGBA(img), nil
}

func (c *Camera) Close() error {
	if c.vc == nil {
		return nil
	}
	c.closed = true
	_ = c.mat.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
