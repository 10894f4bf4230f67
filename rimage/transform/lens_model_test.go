package transform

import (
	"image"
	"math"
	"testing"

	"go.viam.com/test"
)

var (
	hdIntrinsics = &PinholeCameraIntrinsics{Width: 1920, Height: 1080, Fx: 1400, Fy: 1400, Ppx: 960, Ppy: 540}
	hdBarrel     = &BrownConrady{RadialK1: -0.05, RadialK2: 0.01}
	hdTangential = &BrownConrady{RadialK1: -0.12, RadialK2: 0.03, RadialK3: -0.002, TangentialP1: 0.001, TangentialP2: -0.0008}

	fisheyeIntrinsics = &PinholeCameraIntrinsics{Width: 1280, Height: 960, Fx: 700, Fy: 700, Ppx: 640, Ppy: 480}
	fisheyeLens       = &KannalaBrandt{K1: 0.02, K2: -0.005, K3: 0.001}
)

func TestModelRoundTrip(t *testing.T) {
	for _, model := range []DistortionModel{hdBarrel, hdTangential, fisheyeLens} {
		for _, pt := range [][2]float64{{0, 0}, {0.3, -0.2}, {-0.6, 0.35}, {0.68, 0.38}, {1e-14, 0}} {
			xd, yd := model.Distort(pt[0], pt[1])
			xu, yu := model.Undistort(xd, yd)
			test.That(t, xu, test.ShouldAlmostEqual, pt[0], 1e-8)
			test.That(t, yu, test.ShouldAlmostEqual, pt[1], 1e-8)
		}
	}
}

func TestBarrelDistortionPullsInward(t *testing.T) {
	xd, yd := hdBarrel.Distort(0.6, 0.3)
	test.That(t, math.Hypot(xd, yd), test.ShouldBeLessThan, math.Hypot(0.6, 0.3))
	xd, yd = fisheyeLens.Distort(0.6, 0.3)
	// The equidistant projection compresses the periphery as well.
	test.That(t, math.Hypot(xd, yd), test.ShouldBeLessThan, math.Hypot(0.6, 0.3))
}

func TestFisheyeUndistortBeyondHorizon(t *testing.T) {
	// With strongly negative k1, θd(θ) turns back before reaching 2.5, so no ray images there.
	lens := &KannalaBrandt{K1: -0.4}
	x, y := lens.Undistort(2.5, 0)
	test.That(t, math.IsNaN(x), test.ShouldBeTrue)
	test.That(t, math.IsNaN(y), test.ShouldBeTrue)
}

func TestIdentityOptimalIntrinsics(t *testing.T) {
	for _, model := range []DistortionModel{&BrownConrady{}, &KannalaBrandt{}} {
		for _, alpha := range []float64{0, 0.5, 1} {
			newIntr, roi, err := model.OptimalIntrinsics(hdIntrinsics, alpha)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, *newIntr, test.ShouldResemble, *hdIntrinsics)
			test.That(t, roi, test.ShouldResemble, image.Rect(0, 0, 1920, 1080))
		}
		x, y := model.Distort(0.4, -0.2)
		test.That(t, x, test.ShouldEqual, 0.4)
		test.That(t, y, test.ShouldEqual, -0.2)
	}
}

func TestOptimalIntrinsicsErrors(t *testing.T) {
	for _, model := range []DistortionModel{hdBarrel, fisheyeLens} {
		for _, alpha := range []float64{-0.1, 1.01, math.NaN()} {
			_, _, err := model.OptimalIntrinsics(hdIntrinsics, alpha)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, "alpha")
		}
		_, _, err := model.OptimalIntrinsics(&PinholeCameraIntrinsics{Width: 0, Height: 10, Fx: 1, Fy: 1}, 0)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func assertCropMonotonic(t *testing.T, model DistortionModel, intr *PinholeCameraIntrinsics) {
	t.Helper()
	full := intr.Bounds()
	var prev image.Rectangle
	var firstCam *PinholeCameraIntrinsics
	for i, alpha := range []float64{0, 0.25, 0.5, 0.75, 1} {
		newIntr, roi, err := model.OptimalIntrinsics(intr, alpha)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, roi.In(full), test.ShouldBeTrue)
		test.That(t, roi.Empty(), test.ShouldBeFalse)
		test.That(t, newIntr.Size(), test.ShouldResemble, intr.Size())
		if i == 0 {
			firstCam = newIntr
			test.That(t, roi.Dx()*roi.Dy(), test.ShouldBeLessThan, full.Dx()*full.Dy())
		} else {
			// The rectified camera does not depend on alpha, only the crop window does.
			test.That(t, *newIntr, test.ShouldResemble, *firstCam)
			test.That(t, prev.In(roi), test.ShouldBeTrue)
		}
		prev = roi
	}
	test.That(t, prev, test.ShouldResemble, full)
}

func TestBrownConradyOptimalIntrinsics(t *testing.T) {
	assertCropMonotonic(t, hdBarrel, hdIntrinsics)
	assertCropMonotonic(t, hdTangential, hdIntrinsics)

	newIntr, roi, err := hdBarrel.OptimalIntrinsics(hdIntrinsics, 0)
	test.That(t, err, test.ShouldBeNil)
	// Barrel distortion hides the periphery, so the full field of view needs a shorter focal length.
	test.That(t, newIntr.Fx, test.ShouldBeLessThan, hdIntrinsics.Fx)
	test.That(t, newIntr.Fy, test.ShouldBeLessThan, hdIntrinsics.Fy)
	test.That(t, newIntr.Ppx, test.ShouldAlmostEqual, 960, 1e-6)
	test.That(t, newIntr.Ppy, test.ShouldAlmostEqual, 540, 1e-6)
	// A symmetric lens centred in the frame gives a centred crop.
	test.That(t, roi.Min.X, test.ShouldEqual, 1920-roi.Max.X)
	test.That(t, roi.Min.Y, test.ShouldEqual, 1080-roi.Max.Y)

	// Every pixel of the tightest crop samples from inside the source frame.
	for _, corner := range []image.Point{roi.Min, {roi.Max.X - 1, roi.Min.Y}, {roi.Min.X, roi.Max.Y - 1}, roi.Max.Sub(image.Pt(1, 1))} {
		x, y := newIntr.PixelToNormalized(float64(corner.X), float64(corner.Y))
		u, v := hdIntrinsics.NormalizedToPixel(hdBarrel.Distort(x, y))
		test.That(t, u, test.ShouldBeBetweenOrEqual, 0.0, 1920.0)
		test.That(t, v, test.ShouldBeBetweenOrEqual, 0.0, 1080.0)
	}
}

func TestKannalaBrandtOptimalIntrinsics(t *testing.T) {
	assertCropMonotonic(t, fisheyeLens, fisheyeIntrinsics)

	newIntr, _, err := fisheyeLens.OptimalIntrinsics(fisheyeIntrinsics, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, newIntr.Fx, test.ShouldAlmostEqual, newIntr.Fy, 1e-9)
	test.That(t, newIntr.Ppx, test.ShouldAlmostEqual, 640, 1e-6)
	test.That(t, newIntr.Ppy, test.ShouldAlmostEqual, 480, 1e-6)

	// The edge midpoints land inside the canvas and the binding pair touches its border.
	x, y := fisheyeIntrinsics.PixelToNormalized(0, 480)
	u, _ := newIntr.NormalizedToPixel(fisheyeLens.Undistort(x, y))
	test.That(t, u, test.ShouldAlmostEqual, 0, 1e-6)
	x, y = fisheyeIntrinsics.PixelToNormalized(640, 0)
	_, v := newIntr.NormalizedToPixel(fisheyeLens.Undistort(x, y))
	test.That(t, v, test.ShouldBeGreaterThan, 0.0)
}
