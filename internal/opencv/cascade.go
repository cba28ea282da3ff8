// Package opencv adapts gocv to the detect and capture contracts.
package opencv

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"

	"smilecam/internal/detect"
)

// Cascade is a loaded Haar cascade. It is read-only after loading.
type Cascade struct {
	path string

	// OpenCV cascade objects are not safe for concurrent detection.
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func LoadCascade(path string) (*Cascade, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("load cascade classifier %s", path)
	}
	return &Cascade{path: path, classifier: classifier}, nil
}

func (c *Cascade) Path() string {
	return c.path
}

func (c *Cascade) DetectMultiScale(img *image.Gray, p detect.Params) []image.Rectangle {
	mat, err := gocv.ImageGrayToMatGray(compactGray(img))
	if err != nil {
		return nil
	}
	defer mat.Close()

	c.mu.Lock()
	rects := c.classifier.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0, p.MinSize, image.Point{})
	c.mu.Unlock()

	// Mat coordinates start at zero; move them back into img's space.
	origin := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(origin)
	}
	return rects
}

func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

// compactGray returns img with a zero origin and a stride equal to its width,
// which is the layout gocv expects.
func compactGray(img *image.Gray) *image.Gray {
	b := img.Bounds()
	if b.Min == (image.Point{}) && img.Stride == b.Dx() {
		return img
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
