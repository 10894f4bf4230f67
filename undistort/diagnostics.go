package undistort

import (
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/rimage/transform"
)

const (
	residualGrid  = 33
	radialSamples = 64
)

// ResidualStats summarizes the pixel error of undistorting and distorting again.
type ResidualStats struct {
	Mean   float64
	Median float64
	P95    float64
	Max    float64
	// Invalid counts samples the model could not invert.
	Invalid int
}

// RadialSample is the shift the lens applies to a pixel at Radius from the principal point,
// both in pixels, sampled along the diagonal towards the bottom right corner.
type RadialSample struct {
	Radius       float64
	Displacement float64
}

// Diagnostics describes what a lens model does to a frame.
type Diagnostics struct {
	Model      transform.DistortionType
	Identity   bool
	Intrinsics *transform.PinholeCameraIntrinsics
	// Rectified is the full field of view rectified camera.
	Rectified *transform.PinholeCameraIntrinsics
	// TightROI and FullROI are the crop windows for alpha 0 and 1.
	TightROI image.Rectangle
	FullROI  image.Rectangle
	Residual ResidualStats
	Radial   []RadialSample
}

// Diagnose evaluates the lens model of doc over its frame.
func Diagnose(doc *calibration.Document) (*Diagnostics, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	model, err := doc.Model()
	if err != nil {
		return nil, err
	}
	intr := doc.Intrinsics.Clone()
	rectified, tight, err := model.OptimalIntrinsics(intr, 0)
	if err != nil {
		return nil, err
	}
	_, full, err := model.OptimalIntrinsics(intr, 1)
	if err != nil {
		return nil, err
	}

	d := &Diagnostics{
		Model:      model.ModelType(),
		Identity:   model.IsIdentity(),
		Intrinsics: intr,
		Rectified:  rectified,
		TightROI:   tight,
		FullROI:    full,
	}
	if d.Residual, err = roundTripResiduals(intr, model); err != nil {
		return nil, err
	}
	d.Radial = radialProfile(intr, model)
	return d, nil
}

func roundTripResiduals(intr *transform.PinholeCameraIntrinsics, model transform.DistortionModel) (ResidualStats, error) {
	var (
		res       ResidualStats
		residuals = make([]float64, 0, residualGrid*residualGrid)
	)
	for gy := 0; gy < residualGrid; gy++ {
		for gx := 0; gx < residualGrid; gx++ {
			u := float64(intr.Width-1) * float64(gx) / (residualGrid - 1)
			v := float64(intr.Height-1) * float64(gy) / (residualGrid - 1)
			x, y := intr.PixelToNormalized(u, v)
			ux, uy := model.Undistort(x, y)
			if math.IsNaN(ux) || math.IsNaN(uy) {
				res.Invalid++
				continue
			}
			ru, rv := intr.NormalizedToPixel(model.Distort(ux, uy))
			residuals = append(residuals, math.Hypot(ru-u, rv-v))
		}
	}
	if len(residuals) == 0 {
		return res, errors.New("model cannot be inverted anywhere in the frame")
	}

	data := stats.Float64Data(residuals)
	var err error
	if res.Mean, err = data.Mean(); err != nil {
		return res, err
	}
	if res.Median, err = data.Median(); err != nil {
		return res, err
	}
	if res.P95, err = data.Percentile(95); err != nil {
		return res, err
	}
	if res.Max, err = data.Max(); err != nil {
		return res, err
	}
	return res, nil
}

func radialProfile(intr *transform.PinholeCameraIntrinsics, model transform.DistortionModel) []RadialSample {
	dx := float64(intr.Width) - intr.Ppx
	dy := float64(intr.Height) - intr.Ppy
	maxRadius := math.Hypot(dx, dy)
	samples := make([]RadialSample, 0, radialSamples)
	for i := 0; i <= radialSamples; i++ {
		t := float64(i) / radialSamples
		u, v := intr.Ppx+dx*t, intr.Ppy+dy*t
		x, y := intr.PixelToNormalized(u, v)
		ux, uy := model.Undistort(x, y)
		if math.IsNaN(ux) || math.IsNaN(uy) {
			continue
		}
		pu, pv := intr.NormalizedToPixel(ux, uy)
		samples = append(samples, RadialSample{Radius: maxRadius * t, Displacement: math.Hypot(pu-u, pv-v)})
	}
	return samples
}
