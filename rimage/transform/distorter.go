package transform

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// KannalaBrandtDistortionType is for wide-angle and fisheye lense distortion.
	KannalaBrandtDistortionType = DistortionType("kannala_brandt")
)

// ErrInvalidDistortion is the root of every distortion parameter error.
var ErrInvalidDistortion = errors.New("invalid distortion_parameters")

// DistortionModel maps between undistorted and distorted normalized image coordinates and
// derives the rectified camera for a given lens.
type DistortionModel interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	// IsIdentity is true when every coefficient is zero. Both directions are then the identity.
	IsIdentity() bool
	// Distort maps an undistorted normalized point to where the lens images it.
	Distort(x, y float64) (float64, float64)
	// Undistort inverts Distort. Points with no valid preimage map to NaN.
	Undistort(x, y float64) (float64, float64)
	// OptimalIntrinsics returns the rectified camera for a canvas the size of intr that keeps the
	// full field of view, and the crop window selected by alpha inside that canvas. alpha=0 is
	// the largest rectangle holding only valid pixels and alpha=1 is the whole canvas.
	OptimalIntrinsics(intr *PinholeCameraIntrinsics, alpha float64) (*PinholeCameraIntrinsics, image.Rectangle, error)
}

// Coefficients are the six lens coefficients stored in a calibration document. Missing values
// are zero. Which of them a model reads depends on Model.
type Coefficients struct {
	K1    float64        `json:"k1"`
	K2    float64        `json:"k2"`
	K3    float64        `json:"k3"`
	K4    float64        `json:"k4"`
	P1    float64        `json:"p1"`
	P2    float64        `json:"p2"`
	Model DistortionType `json:"model"`
}

// IsFisheye reports whether the coefficients describe the Kannala-Brandt model.
func (c Coefficients) IsFisheye() bool {
	return c.Model == KannalaBrandtDistortionType
}

// Values returns k1, k2, k3, k4, p1, p2 in that order.
func (c Coefficients) Values() []float64 {
	return []float64{c.K1, c.K2, c.K3, c.K4, c.P1, c.P2}
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(ErrInvalidDistortion, msg)
}

// NewDistortionModel returns the model named by c.Model built from its coefficients. An empty
// model name means Brown-Conrady.
func NewDistortionModel(c Coefficients) (DistortionModel, error) {
	for _, v := range c.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, InvalidDistortionError("coefficients must be finite")
		}
	}
	switch c.Model {
	case BrownConradyDistortionType, "":
		return &BrownConrady{
			RadialK1:     c.K1,
			RadialK2:     c.K2,
			RadialK3:     c.K3,
			TangentialP1: c.P1,
			TangentialP2: c.P2,
		}, nil
	case KannalaBrandtDistortionType:
		return &KannalaBrandt{K1: c.K1, K2: c.K2, K3: c.K3, K4: c.K4}, nil
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", c.Model)
	}
}

func checkAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return errors.Errorf("alpha must be within [0, 1], got %v", alpha)
	}
	return nil
}
