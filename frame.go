package mipcast

import (
	"image"
)

// Frame is a rendered projection: Width*Height float32 intensities in
// row-major order, row 0 at the top.
type Frame struct {
	Width, Height int
	Pix           []float32
}

func newFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// At returns the intensity at (x, y).
func (f *Frame) At(x, y int) float32 {
	return f.Pix[y*f.Width+x]
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := newFrame(f.Width, f.Height)
	copy(out.Pix, f.Pix)
	return out
}

// Max returns the brightest intensity in the frame.
func (f *Frame) Max() float32 {
	var m float32
	for _, v := range f.Pix {
		if v > m {
			m = v
		}
	}
	return m
}

// Gray16 converts the frame to a 16-bit grayscale image, clamping
// intensities to [0,1]. Frames rendered with maxVal > 0 are already in
// that range.
func (f *Frame) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.At(x, y)
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			g := uint16(v * 65535)
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(g >> 8)
			img.Pix[i+1] = uint8(g)
		}
	}
	return img
}
