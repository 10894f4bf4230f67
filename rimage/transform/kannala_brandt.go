package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// KannalaBrandt is the equidistant fisheye model. A ray at angle θ from the optical axis is
// imaged at radius θd = θ(1 + k1θ² + k2θ⁴ + k3θ⁶ + k4θ⁸) on the normalized plane.
type KannalaBrandt struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
}

const (
	fisheyeMaxIterations = 10
	fisheyeEpsilon       = 1e-8
)

// CheckValid checks if the fields for KannalaBrandt have valid inputs.
func (kb *KannalaBrandt) CheckValid() error {
	if kb == nil {
		return InvalidDistortionError("KannalaBrandt shaped distortion_parameters not provided")
	}
	for _, v := range kb.Parameters() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidDistortionError("KannalaBrandt coefficients must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (kb *KannalaBrandt) ModelType() DistortionType {
	return KannalaBrandtDistortionType
}

// Parameters returns k1..k4.
func (kb *KannalaBrandt) Parameters() []float64 {
	if kb == nil {
		return []float64{}
	}
	return []float64{kb.K1, kb.K2, kb.K3, kb.K4}
}

// IsIdentity is true when all coefficients are zero. The lens is then treated as a plain pinhole
// rather than an uncorrected equidistant projection.
func (kb *KannalaBrandt) IsIdentity() bool {
	return kb == nil || (kb.K1 == 0 && kb.K2 == 0 && kb.K3 == 0 && kb.K4 == 0)
}

func (kb *KannalaBrandt) thetaD(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	return theta * (1 + kb.K1*t2 + kb.K2*t4 + kb.K3*t4*t2 + kb.K4*t4*t4)
}

// Distort projects an undistorted normalized point through the fisheye lens.
func (kb *KannalaBrandt) Distort(x, y float64) (float64, float64) {
	if kb.IsIdentity() {
		return x, y
	}
	r := math.Hypot(x, y)
	if r < 1e-12 {
		return x, y
	}
	scale := kb.thetaD(math.Atan(r)) / r
	return x * scale, y * scale
}

// Undistort solves θd(θ) for θ with Newton's method. Points whose solution does not converge or
// flips to the other side of the optical axis have no preimage and map to NaN.
func (kb *KannalaBrandt) Undistort(xd, yd float64) (float64, float64) {
	if kb.IsIdentity() {
		return xd, yd
	}
	thetaD := math.Min(math.Max(-math.Pi/2, math.Hypot(xd, yd)), math.Pi/2)
	if thetaD < 1e-12 {
		return xd, yd
	}

	theta := thetaD
	converged := false
	for i := 0; i < fisheyeMaxIterations; i++ {
		t2 := theta * theta
		t4 := t2 * t2
		t6 := t4 * t2
		t8 := t6 * t2
		fix := (kb.thetaD(theta) - thetaD) /
			(1 + 3*kb.K1*t2 + 5*kb.K2*t4 + 7*kb.K3*t6 + 9*kb.K4*t8)
		theta -= fix
		if math.Abs(fix) < fisheyeEpsilon {
			converged = true
			break
		}
	}
	if !converged || theta*thetaD < 0 || math.Abs(theta) >= math.Pi/2 {
		return math.NaN(), math.NaN()
	}
	scale := math.Tan(theta) / thetaD
	return xd * scale, yd * scale
}

// OptimalIntrinsics bounds the field of view by the undistorted midpoints of the four frame
// edges. The focal length is the smallest that keeps all four inside the canvas and the
// principal point centers their mean, so the whole field of view stays visible. The rectangle
// spanned by the midpoints is the crop window for alpha=0.
func (kb *KannalaBrandt) OptimalIntrinsics(
	intr *PinholeCameraIntrinsics,
	alpha float64,
) (*PinholeCameraIntrinsics, image.Rectangle, error) {
	if err := intr.CheckValid(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if err := checkAlpha(alpha); err != nil {
		return nil, image.Rectangle{}, err
	}
	if kb.IsIdentity() {
		return intr.Clone(), intr.Bounds(), nil
	}

	w, h := float64(intr.Width), float64(intr.Height)
	// top, right, bottom, left
	pixels := []r2.Point{{X: w / 2, Y: 0}, {X: w, Y: h / 2}, {X: w / 2, Y: h}, {X: 0, Y: h / 2}}
	mids := make([]r2.Point, len(pixels))
	var center r2.Point
	for i, px := range pixels {
		x, y := intr.PixelToNormalized(px.X, px.Y)
		mids[i].X, mids[i].Y = kb.Undistort(x, y)
		if math.IsNaN(mids[i].X) || math.IsNaN(mids[i].Y) {
			return nil, image.Rectangle{}, InvalidDistortionError("fisheye model cannot be inverted at the frame edges")
		}
		center = center.Add(mids[i])
	}
	center = center.Mul(1 / float64(len(mids)))

	aspect := intr.Fx / intr.Fy
	center.Y *= aspect
	bounds := r2.EmptyRect()
	for _, m := range mids {
		bounds = bounds.AddPoint(r2.Point{X: m.X, Y: m.Y * aspect})
	}

	focal := math.Inf(1)
	for _, f := range []float64{
		w * 0.5 / (center.X - bounds.X.Lo),
		w * 0.5 / (bounds.X.Hi - center.X),
		h * 0.5 * aspect / (center.Y - bounds.Y.Lo),
		h * 0.5 * aspect / (bounds.Y.Hi - center.Y),
	} {
		if f > 0 && !math.IsInf(f, 0) {
			focal = math.Min(focal, f)
		}
	}
	if math.IsInf(focal, 1) {
		return nil, image.Rectangle{}, InvalidDistortionError("fisheye field of view is degenerate")
	}

	newIntr := &PinholeCameraIntrinsics{
		Width:  intr.Width,
		Height: intr.Height,
		Fx:     focal,
		Fy:     focal / aspect,
		Ppx:    -center.X*focal + w*0.5,
		Ppy:    (-center.Y*focal + h*aspect*0.5) / aspect,
	}
	if err := newIntr.CheckValid(); err != nil {
		return nil, image.Rectangle{}, InvalidDistortionError("degenerate rectified camera: " + err.Error())
	}

	inner := r2.Rect{
		X: r1.Interval{Lo: mids[3].X, Hi: mids[1].X},
		Y: r1.Interval{Lo: mids[0].Y, Hi: mids[2].Y},
	}
	roi, err := cropWindow(newIntr, inner, alpha)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return newIntr, roi, nil
}
