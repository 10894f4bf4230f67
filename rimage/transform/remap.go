package transform

import (
	"context"
	"image"
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/autotracker/lenswarp/utils"
)

// Direction selects which image domain a remap table produces.
type Direction int

const (
	// Rectify produces rectified images from distorted ones.
	Rectify Direction = iota
	// Distort produces distorted images from rectified ones.
	Distort
)

func (d Direction) String() string {
	if d == Distort {
		return "distort"
	}
	return "rectify"
}

// ParseDirection accepts "rectify"/"undistort" and "distort"/"restore".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "rectify", "undistort":
		return Rectify, nil
	case "distort", "restore":
		return Distort, nil
	}
	return Rectify, errors.Errorf("unknown remap direction %q", s)
}

// RemapTable stores, for every destination pixel, the source pixel coordinates to sample from.
// The coordinates may fall outside the source image; the warp fills those pixels with the border
// value. A table is never modified after it is built and may be shared by concurrent warps.
type RemapTable struct {
	Width  int
	Height int
	MapX   []float32
	MapY   []float32
}

// At returns the source coordinates of destination pixel (u, v).
func (rt *RemapTable) At(u, v int) (float64, float64) {
	i := v*rt.Width + u
	return float64(rt.MapX[i]), float64(rt.MapY[i])
}

// Sample interpolates the table bilinearly at a fractional destination position. ok is false
// outside the table or where a corner is undefined.
func (rt *RemapTable) Sample(u, v float64) (float64, float64, bool) {
	x0, y0, x1, y1, fx, fy, ok := bilinearSetup(u, v, rt.Width, rt.Height)
	if !ok {
		return 0, 0, false
	}
	corners := [4]struct {
		i int
		w float64
	}{
		{y0*rt.Width + x0, (1 - fx) * (1 - fy)},
		{y0*rt.Width + x1, fx * (1 - fy)},
		{y1*rt.Width + x0, (1 - fx) * fy},
		{y1*rt.Width + x1, fx * fy},
	}
	// Zero-weight corners are skipped so an undefined neighbour does not poison the result.
	lerp2 := func(m []float32) float64 {
		var sum float64
		for _, c := range corners {
			if c.w != 0 {
				sum += c.w * float64(m[c.i])
			}
		}
		return sum
	}
	x, y := lerp2(rt.MapX), lerp2(rt.MapY)
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	return x, y, true
}

// BuildRemapTable computes the sampling table for a destination image of the given size.
//
// For Rectify, destination pixels live in the rectified camera newIntr and are sampled from an
// image taken by intr through the lens. For Distort, destination pixels live in intr behind the
// lens and are sampled from a rectified image taken by newIntr, the linear camera.
func BuildRemapTable(
	ctx context.Context,
	intr *PinholeCameraIntrinsics,
	model DistortionModel,
	newIntr *PinholeCameraIntrinsics,
	size image.Point,
	dir Direction,
) (*RemapTable, error) {
	ctx, span := trace.StartSpan(ctx, "transform::BuildRemapTable")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	if err := newIntr.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid rectified camera")
	}
	if model == nil {
		return nil, InvalidDistortionError("no distortion model")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid remap table size %v", size)
	}

	// dest is the camera of the destination pixels and src the camera of the sampled image.
	dest, src := newIntr, intr
	lens := model.Distort
	if dir == Distort {
		dest, src = intr, newIntr
		lens = model.Undistort
	}
	destInv, err := dest.GetInverseCameraMatrix()
	if err != nil {
		return nil, err
	}
	a00, a01, a02 := destInv.At(0, 0), destInv.At(0, 1), destInv.At(0, 2)
	a10, a11, a12 := destInv.At(1, 0), destInv.At(1, 1), destInv.At(1, 2)

	table := &RemapTable{
		Width:  size.X,
		Height: size.Y,
		MapX:   make([]float32, size.X*size.Y),
		MapY:   make([]float32, size.X*size.Y),
	}
	err = utils.ParallelForEachPixel(ctx, size, func(u, v int) {
		fu, fv := float64(u), float64(v)
		x, y := lens(a00*fu+a01*fv+a02, a10*fu+a11*fv+a12)
		sx, sy := src.NormalizedToPixel(x, y)
		i := v*size.X + u
		table.MapX[i] = float32(sx)
		table.MapY[i] = float32(sy)
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
