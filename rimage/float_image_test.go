package rimage

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNewFloatImage(t *testing.T) {
	_, err := NewFloatImage(image.Rect(0, 0, 4, 4), 2)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewFloatImage(image.Rect(0, 0, 0, 4), 3)
	test.That(t, err, test.ShouldNotBeNil)

	img, err := NewFloatImage(image.Rect(2, 3, 6, 5), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Width(), test.ShouldEqual, 4)
	test.That(t, img.Height(), test.ShouldEqual, 2)
	test.That(t, img.Stride, test.ShouldEqual, 12)
	test.That(t, len(img.Pix), test.ShouldEqual, 24)

	img.SetFloat(5, 4, 1.5, -2, 1e6)
	test.That(t, img.FloatAt(5, 4), test.ShouldResemble, []float32{1.5, -2, 1e6})
	test.That(t, img.FloatAt(0, 0), test.ShouldBeNil)
	// Out of bounds writes are ignored.
	img.SetFloat(0, 0, 1, 1, 1)
}

func TestFloatImagePreview(t *testing.T) {
	img, err := NewFloatImage(image.Rect(0, 0, 2, 1), 4)
	test.That(t, err, test.ShouldBeNil)
	img.SetFloat(0, 0, 2, 0.5, -1, 1)
	img.SetFloat(1, 0, 1, 1, 1, 0)

	test.That(t, img.At(0, 0), test.ShouldResemble, color.RGBA64{math.MaxUint16, 32768, 0, math.MaxUint16})
	test.That(t, img.At(1, 0), test.ShouldResemble, color.RGBA64{0, 0, 0, 0})

	nrgba := img.ToNRGBA()
	test.That(t, nrgba.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{255, 128, 0, 255})
	test.That(t, nrgba.NRGBAAt(1, 0), test.ShouldResemble, color.NRGBA{255, 255, 255, 0})

	gray, err := NewFloatImage(image.Rect(0, 0, 1, 1), 1)
	test.That(t, err, test.ShouldBeNil)
	gray.SetFloat(0, 0, float32(math.NaN()))
	test.That(t, gray.ToNRGBA().NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
}

func TestFloatImageCrop(t *testing.T) {
	img, err := NewFloatImage(image.Rect(0, 0, 4, 3), 1)
	test.That(t, err, test.ShouldBeNil)
	for i := range img.Pix {
		img.Pix[i] = float32(i)
	}
	img.HalfPrecision = true

	cropped, err := img.Crop(image.Rect(1, 1, 3, 10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cropped.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 2))
	test.That(t, cropped.Pix, test.ShouldResemble, []float32{5, 6, 9, 10})
	test.That(t, cropped.HalfPrecision, test.ShouldBeTrue)

	_, err = img.Crop(image.Rect(10, 10, 12, 12))
	test.That(t, err, test.ShouldNotBeNil)
}
