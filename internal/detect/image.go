package detect

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	Green = color.RGBA{0, 255, 0, 255}
	Red   = color.RGBA{255, 0, 0, 255}
)

const boxThickness = 2

// Grayscale converts with the BT.601 luma weights OpenCV uses for BGR2GRAY.
func Grayscale(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	w := b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		si := src.PixOffset(b.Min.X, y)
		di := dst.PixOffset(b.Min.X, y)
		for x := 0; x < w; x++ {
			r := uint32(src.Pix[si])
			g := uint32(src.Pix[si+1])
			bl := uint32(src.Pix[si+2])
			dst.Pix[di+x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
			si += 4
		}
	}
	return dst
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	bounds := img.Bounds()
	setPixel := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, col)
		}
	}

	x1, y1 := r.Min.X, r.Min.Y
	x2, y2 := r.Max.X-1, r.Max.Y-1
	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}

// drawLabel writes text with its baseline at at.
func drawLabel(img *image.RGBA, text string, at image.Point, col color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}
