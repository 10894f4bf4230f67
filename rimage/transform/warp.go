package transform

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/autotracker/lenswarp/rimage"
	"github.com/autotracker/lenswarp/utils"
)

// bilinearSetup returns the four neighbours and fractional weights for sampling a w x h grid at
// (x, y). ok is false when the position is outside [0, w-1]x[0, h-1] or not a number.
func bilinearSetup(x, y float64, w, h int) (x0, y0, x1, y1 int, fx, fy float64, ok bool) {
	if !(x >= 0 && y >= 0 && x <= float64(w-1) && y <= float64(h-1)) {
		return 0, 0, 0, 0, 0, 0, false
	}
	x0, y0 = int(x), int(y)
	x1, y1 = min(x0+1, w-1), min(y0+1, h-1)
	return x0, y0, x1, y1, x - float64(x0), y - float64(y0), true
}

// WarpImage resamples img through table with bilinear interpolation. Destination pixels whose
// source position lies outside the image get border in every channel. The output has the table's
// size and keeps the sample type of the input: a *rimage.FloatImage stays float32 without
// clamping, a *image.Gray stays gray, and every other image becomes *image.NRGBA.
func WarpImage(ctx context.Context, img image.Image, table *RemapTable, border float64) (image.Image, error) {
	ctx, span := trace.StartSpan(ctx, "transform::WarpImage")
	defer span.End()

	if table == nil {
		return nil, errors.New("no remap table")
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("input image is empty")
	}
	if math.IsNaN(border) {
		return nil, errors.New("border value must be a number")
	}

	switch src := img.(type) {
	case *rimage.FloatImage:
		return warpFloat(ctx, src, table, float32(border))
	case *image.Gray:
		return warpGray(ctx, src, table, border)
	case *image.NRGBA:
		return warpNRGBA(ctx, src, table, border)
	default:
		return warpNRGBA(ctx, imaging.Clone(img), table, border)
	}
}

func border8(border float64) uint8 {
	return uint8(math.Round(utils.Clamp(border, 0, math.MaxUint8)))
}

func round8(v float64) uint8 {
	return uint8(utils.Clamp(v+0.5, 0, math.MaxUint8))
}

func warpFloat(ctx context.Context, src *rimage.FloatImage, table *RemapTable, border float32) (*rimage.FloatImage, error) {
	dst, err := rimage.NewFloatImage(image.Rect(0, 0, table.Width, table.Height), src.Channels)
	if err != nil {
		return nil, err
	}
	dst.HalfPrecision = src.HalfPrecision
	w, h := src.Width(), src.Height()
	minX, minY := src.Rect.Min.X, src.Rect.Min.Y
	channels := src.Channels
	err = utils.ParallelForEachPixel(ctx, image.Point{table.Width, table.Height}, func(u, v int) {
		out := dst.Pix[dst.PixOffset(u, v) : dst.PixOffset(u, v)+channels]
		sx, sy := table.At(u, v)
		x0, y0, x1, y1, fx, fy, ok := bilinearSetup(sx, sy, w, h)
		if !ok {
			for c := range out {
				out[c] = border
			}
			return
		}
		p00 := src.FloatAt(minX+x0, minY+y0)
		if fx == 0 && fy == 0 {
			copy(out, p00)
			return
		}
		p10 := src.FloatAt(minX+x1, minY+y0)
		p01 := src.FloatAt(minX+x0, minY+y1)
		p11 := src.FloatAt(minX+x1, minY+y1)
		for c := 0; c < channels; c++ {
			top := float64(p00[c])*(1-fx) + float64(p10[c])*fx
			bottom := float64(p01[c])*(1-fx) + float64(p11[c])*fx
			out[c] = float32(top*(1-fy) + bottom*fy)
		}
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

func warpGray(ctx context.Context, src *image.Gray, table *RemapTable, border float64) (*image.Gray, error) {
	dst := image.NewGray(image.Rect(0, 0, table.Width, table.Height))
	b := src.Bounds()
	fill := border8(border)
	err := utils.ParallelForEachPixel(ctx, image.Point{table.Width, table.Height}, func(u, v int) {
		sx, sy := table.At(u, v)
		x0, y0, x1, y1, fx, fy, ok := bilinearSetup(sx, sy, b.Dx(), b.Dy())
		if !ok {
			dst.Pix[dst.PixOffset(u, v)] = fill
			return
		}
		at := func(x, y int) float64 {
			return float64(src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)])
		}
		top := at(x0, y0)*(1-fx) + at(x1, y0)*fx
		bottom := at(x0, y1)*(1-fx) + at(x1, y1)*fx
		dst.Pix[dst.PixOffset(u, v)] = round8(top*(1-fy) + bottom*fy)
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

func warpNRGBA(ctx context.Context, src *image.NRGBA, table *RemapTable, border float64) (*image.NRGBA, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, table.Width, table.Height))
	b := src.Bounds()
	fill := border8(border)
	err := utils.ParallelForEachPixel(ctx, image.Point{table.Width, table.Height}, func(u, v int) {
		i := dst.PixOffset(u, v)
		out := dst.Pix[i : i+4 : i+4]
		sx, sy := table.At(u, v)
		x0, y0, x1, y1, fx, fy, ok := bilinearSetup(sx, sy, b.Dx(), b.Dy())
		if !ok {
			out[0], out[1], out[2], out[3] = fill, fill, fill, fill
			return
		}
		i00 := src.PixOffset(b.Min.X+x0, b.Min.Y+y0)
		i10 := src.PixOffset(b.Min.X+x1, b.Min.Y+y0)
		i01 := src.PixOffset(b.Min.X+x0, b.Min.Y+y1)
		i11 := src.PixOffset(b.Min.X+x1, b.Min.Y+y1)
		for c := 0; c < 4; c++ {
			top := float64(src.Pix[i00+c])*(1-fx) + float64(src.Pix[i10+c])*fx
			bottom := float64(src.Pix[i01+c])*(1-fx) + float64(src.Pix[i11+c])*fx
			out[c] = round8(top*(1-fy) + bottom*fy)
		}
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}
