package rimage

import (
	"bufio"
	"context"
	"image"
	"image/draw"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/pfm"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.opencensus.io/trace"
	"go.viam.com/utils"

	// register webp decoding for imaging.Open.
	_ "golang.org/x/image/webp"

	"github.com/autotracker/lenswarp/logging"
)

type decodeFunc func(io.Reader) (image.Image, error)

// ReadImageFromFile decodes the image at path, choosing the codec from the extension. 8-bit
// containers decode to *image.Gray or *image.NRGBA; floating point containers decode to
// *FloatImage with their samples untouched.
func ReadImageFromFile(ctx context.Context, path string) (image.Image, error) {
	_, span := trace.StartSpan(ctx, "rimage::ReadImageFromFile")
	defer span.End()

	var img image.Image
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exr", ".pfm", ".hdr":
		return readFloat(path)
	case ".ppm":
		img, err = decodeFile(path, ppm.Decode)
	case ".qoi":
		img, err = decodeFile(path, qoi.Decode)
	default:
		img, err = imaging.Open(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return normalizeLDR(img), nil
}

func decodeFile(path string, decode decodeFunc) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return decode(bufio.NewReader(f))
}

// normalizeLDR keeps gray images as they are and converts every other 8 or 16 bit layout to
// NRGBA so the warp only handles two interleaved layouts.
func normalizeLDR(img image.Image) image.Image {
	switch img.(type) {
	case *image.NRGBA, *image.Gray:
		return img
	default:
		return imaging.Clone(img)
	}
}

func readFloat(path string) (image.Image, error) {
	var floatImg *FloatImage
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exr":
		floatImg, err = readEXR(path)
	case ".pfm":
		floatImg, err = readHDR(path, func(r io.Reader) (image.Image, error) { return pfm.Decode(r) })
	default:
		floatImg, err = readHDR(path, func(r io.Reader) (image.Image, error) { return rgbe.Decode(r) })
	}
	if err != nil {
		return nil, err
	}
	return floatImg, nil
}

func readHDR(path string, decode decodeFunc) (*FloatImage, error) {
	img, err := decodeFile(path, decode)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	hdrImg, ok := img.(hdr.Image)
	if !ok {
		return nil, errors.Errorf("decoder for %q returned %T instead of an HDR image", path, img)
	}
	b := hdrImg.Bounds()
	out, err := NewFloatImage(image.Rect(0, 0, b.Dx(), b.Dy()), 3)
	if err != nil {
		return nil, err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := hdrImg.HDRAt(x, y).HDRRGBA()
			out.SetFloat(x-b.Min.X, y-b.Min.Y, float32(r), float32(g), float32(bl))
		}
	}
	return out, nil
}

// WriteImageToFile encodes img at path, choosing the codec from the extension, and returns the
// path actually written. Two cases degrade instead of failing, both logged as warnings:
// an extension with no encoder is written as PNG next to the requested name, and a float image
// written to an 8-bit container is clamped to [0, 1] and quantized.
func WriteImageToFile(ctx context.Context, path string, img image.Image, logger logging.Logger) (string, error) {
	_, span := trace.StartSpan(ctx, "rimage::WriteImageToFile")
	defer span.End()

	if fallback := EncodedPath(path); fallback != path {
		logger.Warnw("no encoder for extension, writing PNG instead", "requested", path, "written", fallback)
		path = fallback
	}
	ext := strings.ToLower(filepath.Ext(path))

	floatImg, isFloat := img.(*FloatImage)
	if IsFloatExtension(path) {
		if !isFloat {
			floatImg = NewFloatImageFromImage(img)
		}
		var err error
		switch ext {
		case ".exr":
			err = writeEXR(path, floatImg)
		case ".pfm":
			err = writeHDR(path, floatImg, logger, func(w io.Writer, m *hdr.RGB) error { return pfm.Encode(w, m) })
		default:
			err = writeHDR(path, floatImg, logger, func(w io.Writer, m *hdr.RGB) error { return rgbe.Encode(w, m) })
		}
		if err != nil {
			return "", errors.Wrapf(err, "cannot encode %q", path)
		}
		return path, nil
	}

	if isFloat {
		logger.Warnw("clamping float image to 8 bits for an 8-bit container", "file", path)
		img = floatImg.ToNRGBA()
	}
	var err error
	switch ext {
	case ".ppm":
		err = encodeFile(path, func(w io.Writer) error { return ppm.Encode(w, toRGBA(img)) })
	case ".qoi":
		err = encodeFile(path, func(w io.Writer) error { return qoi.Encode(w, img) })
	default:
		err = imaging.Save(img, path, imaging.JPEGQuality(95))
	}
	if err != nil {
		return "", errors.Wrapf(err, "cannot encode %q", path)
	}
	return path, nil
}

// toRGBA converts img to premultiplied RGBA, the only model the PPM encoder takes.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func encodeFile(path string, encode func(io.Writer) error) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	w := bufio.NewWriter(f)
	if err := encode(w); err != nil {
		return err
	}
	return w.Flush()
}

func writeHDR(path string, img *FloatImage, logger logging.Logger, encode func(io.Writer, *hdr.RGB) error) error {
	if img.Channels == 4 {
		logger.Debugw("alpha channel dropped for RGB-only container", "file", path)
	}
	out := hdr.NewRGB(image.Rect(0, 0, img.Width(), img.Height()))
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			s := img.FloatAt(x+img.Rect.Min.X, y+img.Rect.Min.Y)
			var c hdrcolor.RGB
			if img.Channels == 1 {
				c = hdrcolor.RGB{R: float64(s[0]), G: float64(s[0]), B: float64(s[0])}
			} else {
				c = hdrcolor.RGB{R: float64(s[0]), G: float64(s[1]), B: float64(s[2])}
			}
			out.SetRGB(x, y, c)
		}
	}
	return encodeFile(path, func(w io.Writer) error { return encode(w, out) })
}

// NewFloatImageFromImage converts an 8 or 16 bit image to float samples in [0, 1]. Gray images
// become single channel, everything else four channel RGBA.
func NewFloatImageFromImage(img image.Image) *FloatImage {
	b := img.Bounds()
	if gray, ok := img.(*image.Gray); ok {
		out := &FloatImage{
			Pix:      make([]float32, b.Dx()*b.Dy()),
			Stride:   b.Dx(),
			Channels: 1,
			Rect:     image.Rect(0, 0, b.Dx(), b.Dy()),
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Pix[(y-b.Min.Y)*out.Stride+(x-b.Min.X)] = float32(gray.GrayAt(x, y).Y) / math.MaxUint8
			}
		}
		return out
	}
	nrgba := imaging.Clone(img)
	out := &FloatImage{
		Pix:      make([]float32, len(nrgba.Pix)),
		Stride:   nrgba.Stride,
		Channels: 4,
		Rect:     nrgba.Rect,
	}
	for i, v := range nrgba.Pix {
		out.Pix[i] = float32(v) / math.MaxUint8
	}
	return out
}

// Crop returns the region r of img with its origin moved to (0, 0). Float images stay float and
// gray images stay gray.
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, errors.Errorf("crop rectangle %v does not overlap image bounds %v", r, img.Bounds())
	}
	switch typed := img.(type) {
	case *FloatImage:
		cropped, err := typed.Crop(r)
		if err != nil {
			return nil, err
		}
		return cropped, nil
	case *image.Gray:
		out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
		for y := r.Min.Y; y < r.Max.Y; y++ {
			copy(out.Pix[(y-r.Min.Y)*out.Stride:], typed.Pix[typed.PixOffset(r.Min.X, y):typed.PixOffset(r.Max.X, y)])
		}
		return out, nil
	default:
		return imaging.Crop(img, r), nil
	}
}
