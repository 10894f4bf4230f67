package transform

import (
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/autotracker/lenswarp/utils"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs. A principal
// point outside the frame is legal.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if !utils.AllFinite(params.Fx, params.Fy, params.Ppx, params.Ppy) {
		return NewNoIntrinsicsError(fmt.Sprintf("Non-finite parameters %+v", *params))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// PrincipalPointInFrame reports whether (Ppx, Ppy) lies inside [0, Width]x[0, Height].
func (params *PinholeCameraIntrinsics) PrincipalPointInFrame() bool {
	frame := r2.Rect{
		X: r1.Interval{Lo: 0, Hi: float64(params.Width)},
		Y: r1.Interval{Lo: 0, Hi: float64(params.Height)},
	}
	return frame.ContainsPoint(r2.Point{X: params.Ppx, Y: params.Ppy})
}

// Clone returns a copy.
func (params *PinholeCameraIntrinsics) Clone() *PinholeCameraIntrinsics {
	if params == nil {
		return nil
	}
	cp := *params
	return &cp
}

// Size returns the frame size in pixels.
func (params *PinholeCameraIntrinsics) Size() image.Point {
	return image.Point{params.Width, params.Height}
}

// Bounds returns the frame rectangle in pixels.
func (params *PinholeCameraIntrinsics) Bounds() image.Rectangle {
	return image.Rect(0, 0, params.Width, params.Height)
}

// PixelToNormalized maps pixel coordinates to the normalized image plane.
func (params *PinholeCameraIntrinsics) PixelToNormalized(u, v float64) (float64, float64) {
	return (u - params.Ppx) / params.Fx, (v - params.Ppy) / params.Fy
}

// NormalizedToPixel maps normalized image plane coordinates to pixels.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) (float64, float64) {
	return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
}

// Shifted returns a copy whose frame is the crop window roi of this camera.
func (params *PinholeCameraIntrinsics) Shifted(roi image.Rectangle) *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width:  roi.Dx(),
		Height: roi.Dy(),
		Fx:     params.Fx,
		Fy:     params.Fy,
		Ppx:    params.Ppx - float64(roi.Min.X),
		Ppy:    params.Ppy - float64(roi.Min.Y),
	}
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// GetInverseCameraMatrix returns the inverse of the camera matrix, mapping homogeneous pixels to
// the normalized image plane.
func (params *PinholeCameraIntrinsics) GetInverseCameraMatrix() (*mat.Dense, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(params.GetCameraMatrix()); err != nil {
		return nil, errors.Wrap(err, "camera matrix is not invertible")
	}
	return &inv, nil
}

// cropWindow maps the normalized rectangle inner through cam into pixels, shrinks it to whole
// pixels, and interpolates it towards the full canvas by alpha.
func cropWindow(cam *PinholeCameraIntrinsics, inner r2.Rect, alpha float64) (image.Rectangle, error) {
	x0, y0 := cam.NormalizedToPixel(inner.X.Lo, inner.Y.Lo)
	x1, y1 := cam.NormalizedToPixel(inner.X.Hi, inner.Y.Hi)
	canvas := cam.Bounds()
	if !(x0 < x1 && y0 < y1) {
		return image.Rectangle{}, InvalidDistortionError("distortion leaves no all-valid crop region")
	}
	tight := image.Rect(
		int(math.Ceil(x0)), int(math.Ceil(y0)),
		int(math.Floor(x1)), int(math.Floor(y1)),
	).Intersect(canvas)
	if tight.Empty() {
		return image.Rectangle{}, InvalidDistortionError("distortion leaves no all-valid crop region")
	}

	lerp := func(from, to int) int {
		return int(math.Round(utils.Lerp(float64(from), float64(to), alpha)))
	}
	return image.Rect(
		lerp(tight.Min.X, canvas.Min.X), lerp(tight.Min.Y, canvas.Min.Y),
		lerp(tight.Max.X, canvas.Max.X), lerp(tight.Max.Y, canvas.Max.Y),
	), nil
}
