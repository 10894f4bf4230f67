package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// BrownConrady is the perspective lens model with three radial and two tangential terms:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// optimalGridSize is the number of samples per image axis used to bound the undistorted frame.
const optimalGridSize = 9

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, v := range bc.Parameters() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidDistortionError("BrownConrady coefficients must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// IsIdentity is true when all coefficients are zero.
func (bc *BrownConrady) IsIdentity() bool {
	return bc == nil ||
		(bc.RadialK1 == 0 && bc.RadialK2 == 0 && bc.RadialK3 == 0 && bc.TangentialP1 == 0 && bc.TangentialP2 == 0)
}

// Distort applies the forward model to an undistorted normalized point.
func (bc *BrownConrady) Distort(x, y float64) (float64, float64) {
	if bc.IsIdentity() {
		return x, y
	}
	r2 := x*x + y*y
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radDist + 2.0*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.0*x*x)
	yd := y*radDist + 2.0*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2.0*y*y)
	return xd, yd
}

// Undistort solves the forward model for the undistorted point.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc.IsIdentity() {
		return xd, yd
	}
	xu, yu := invertBrownConrady(bc, xd, yd)
	if math.IsNaN(xu) || math.IsInf(xu, 0) || math.IsNaN(yu) || math.IsInf(yu, 0) {
		return math.NaN(), math.NaN()
	}
	return xu, yu
}

// OptimalIntrinsics samples a 9x9 grid over the frame, undistorts it, and sizes the rectified
// camera so the bounding box of the grid fills the canvas. The inscribed rectangle of the grid
// border rows and columns is the crop window for alpha=0.
func (bc *BrownConrady) OptimalIntrinsics(
	intr *PinholeCameraIntrinsics,
	alpha float64,
) (*PinholeCameraIntrinsics, image.Rectangle, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if err := checkAlpha(alpha); err != nil {
		return nil, image.Rectangle{}, err
	}
	if bc.IsIdentity() {
		return intr.Clone(), intr.Bounds(), nil
	}

	w, h := float64(intr.Width), float64(intr.Height)
	outer := r2.EmptyRect()
	inner := r2.Rect{
		X: r1.Interval{Lo: math.Inf(-1), Hi: math.Inf(1)},
		Y: r1.Interval{Lo: math.Inf(-1), Hi: math.Inf(1)},
	}
	const last = optimalGridSize - 1
	for gy := 0; gy < optimalGridSize; gy++ {
		for gx := 0; gx < optimalGridSize; gx++ {
			x, y := intr.PixelToNormalized(float64(gx)*w/last, float64(gy)*h/last)
			pt := r2.Point{}
			pt.X, pt.Y = bc.Undistort(x, y)
			if math.IsNaN(pt.X) || math.IsNaN(pt.Y) {
				return nil, image.Rectangle{}, InvalidDistortionError("lens model cannot be inverted over the frame")
			}
			outer = outer.AddPoint(pt)
			switch gx {
			case 0:
				inner.X.Lo = math.Max(inner.X.Lo, pt.X)
			case last:
				inner.X.Hi = math.Min(inner.X.Hi, pt.X)
			}
			switch gy {
			case 0:
				inner.Y.Lo = math.Max(inner.Y.Lo, pt.Y)
			case last:
				inner.Y.Hi = math.Min(inner.Y.Hi, pt.Y)
			}
		}
	}

	newIntr := &PinholeCameraIntrinsics{
		Width:  intr.Width,
		Height: intr.Height,
		Fx:     w / outer.X.Length(),
		Fy:     h / outer.Y.Length(),
	}
	newIntr.Ppx = -newIntr.Fx * outer.X.Lo
	newIntr.Ppy = -newIntr.Fy * outer.Y.Lo
	if err := newIntr.CheckValid(); err != nil {
		return nil, image.Rectangle{}, InvalidDistortionError("degenerate rectified camera: " + err.Error())
	}

	roi, err := cropWindow(newIntr, inner, alpha)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return newIntr, roi, nil
}
