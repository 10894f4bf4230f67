package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// FloatImage is a high-dynamic-range image with interleaved float32 samples. Values are stored
// as read and are never clamped or normalized; only At (used for previews) clamps to [0, 1].
type FloatImage struct {
	// Pix holds Channels samples per pixel, row-major.
	Pix []float32
	// Stride is the number of samples between vertically adjacent pixels.
	Stride   int
	Channels int
	Rect     image.Rectangle
	// HalfPrecision records that the source container stored 16-bit floats so that writers can
	// keep the same sample type.
	HalfPrecision bool
}

// NewFloatImage returns a zeroed FloatImage with 1, 3 or 4 channels.
func NewFloatImage(r image.Rectangle, channels int) (*FloatImage, error) {
	switch channels {
	case 1, 3, 4:
	default:
		return nil, errors.Errorf("unsupported float image channel count %d", channels)
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, errors.Errorf("invalid float image size %dx%d", r.Dx(), r.Dy())
	}
	return &FloatImage{
		Pix:      make([]float32, r.Dx()*r.Dy()*channels),
		Stride:   r.Dx() * channels,
		Channels: channels,
		Rect:     r,
	}, nil
}

// ColorModel returns the preview color model.
func (fi *FloatImage) ColorModel() color.Model {
	return color.RGBA64Model
}

// Bounds returns the image rectangle.
func (fi *FloatImage) Bounds() image.Rectangle {
	return fi.Rect
}

// Width of the image.
func (fi *FloatImage) Width() int {
	return fi.Rect.Dx()
}

// Height of the image.
func (fi *FloatImage) Height() int {
	return fi.Rect.Dy()
}

// PixOffset returns the index of the first sample of the pixel at (x, y).
func (fi *FloatImage) PixOffset(x, y int) int {
	return (y-fi.Rect.Min.Y)*fi.Stride + (x-fi.Rect.Min.X)*fi.Channels
}

// FloatAt returns the samples of the pixel at (x, y). The slice aliases Pix.
func (fi *FloatImage) FloatAt(x, y int) []float32 {
	if !(image.Point{x, y}.In(fi.Rect)) {
		return nil
	}
	i := fi.PixOffset(x, y)
	return fi.Pix[i : i+fi.Channels : i+fi.Channels]
}

// SetFloat copies samples into the pixel at (x, y). Extra samples are ignored.
func (fi *FloatImage) SetFloat(x, y int, samples ...float32) {
	if !(image.Point{x, y}.In(fi.Rect)) {
		return
	}
	i := fi.PixOffset(x, y)
	copy(fi.Pix[i:i+fi.Channels], samples)
}

// At returns a clamped preview of the pixel. Single channel images render as gray and a missing
// alpha channel renders opaque.
func (fi *FloatImage) At(x, y int) color.Color {
	s := fi.FloatAt(x, y)
	if s == nil {
		return color.RGBA64{}
	}
	to16 := func(v float32) uint16 {
		f := float64(v)
		if math.IsNaN(f) || f <= 0 {
			return 0
		}
		if f >= 1 {
			return math.MaxUint16
		}
		return uint16(f*math.MaxUint16 + 0.5)
	}
	switch fi.Channels {
	case 1:
		g := to16(s[0])
		return color.RGBA64{g, g, g, math.MaxUint16}
	case 3:
		return color.RGBA64{to16(s[0]), to16(s[1]), to16(s[2]), math.MaxUint16}
	default:
		// color.RGBA64 is alpha-premultiplied.
		a := to16(s[3])
		premul := func(v float32) uint16 {
			return uint16(uint32(to16(v)) * uint32(a) / math.MaxUint16)
		}
		return color.RGBA64{premul(s[0]), premul(s[1]), premul(s[2]), a}
	}
}

// Crop returns a copy of the region r (intersected with the bounds) whose origin is (0, 0).
func (fi *FloatImage) Crop(r image.Rectangle) (*FloatImage, error) {
	r = r.Intersect(fi.Rect)
	out, err := NewFloatImage(image.Rect(0, 0, r.Dx(), r.Dy()), fi.Channels)
	if err != nil {
		return nil, errors.Wrap(err, "crop region is empty")
	}
	out.HalfPrecision = fi.HalfPrecision
	rowLen := r.Dx() * fi.Channels
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := fi.PixOffset(r.Min.X, y)
		dst := (y - r.Min.Y) * out.Stride
		copy(out.Pix[dst:dst+rowLen], fi.Pix[src:src+rowLen])
	}
	return out, nil
}

// ToNRGBA clamps the samples to [0, 1] and quantizes them to 8 bits.
func (fi *FloatImage) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, fi.Width(), fi.Height()))
	to8 := func(v float32) uint8 {
		f := float64(v)
		if math.IsNaN(f) || f <= 0 {
			return 0
		}
		if f >= 1 {
			return math.MaxUint8
		}
		return uint8(f*math.MaxUint8 + 0.5)
	}
	for y := fi.Rect.Min.Y; y < fi.Rect.Max.Y; y++ {
		for x := fi.Rect.Min.X; x < fi.Rect.Max.X; x++ {
			s := fi.FloatAt(x, y)
			i := out.PixOffset(x-fi.Rect.Min.X, y-fi.Rect.Min.Y)
			switch fi.Channels {
			case 1:
				g := to8(s[0])
				out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = g, g, g, math.MaxUint8
			case 3:
				out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = to8(s[0]), to8(s[1]), to8(s[2]), math.MaxUint8
			default:
				out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = to8(s[0]), to8(s[1]), to8(s[2]), to8(s[3])
			}
		}
	}
	return out
}
