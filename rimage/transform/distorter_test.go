package transform

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNewDistortionModel(t *testing.T) {
	model, err := NewDistortionModel(Coefficients{K1: -0.05, K2: 0.01, K3: 0.001, K4: 0.7, P1: 0.002, P2: -0.003})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	// k4 is not part of the perspective model.
	test.That(t, model.Parameters(), test.ShouldResemble, []float64{-0.05, 0.01, 0.001, 0.002, -0.003})
	test.That(t, model.CheckValid(), test.ShouldBeNil)
	test.That(t, model.IsIdentity(), test.ShouldBeFalse)

	model, err = NewDistortionModel(Coefficients{K1: 0.1, K4: 0.2, P1: 0.5, Model: KannalaBrandtDistortionType})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.ModelType(), test.ShouldEqual, KannalaBrandtDistortionType)
	// p1/p2 are not part of the fisheye model.
	test.That(t, model.Parameters(), test.ShouldResemble, []float64{0.1, 0, 0, 0.2})

	model, err = NewDistortionModel(Coefficients{Model: KannalaBrandtDistortionType})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.IsIdentity(), test.ShouldBeTrue)

	_, err = NewDistortionModel(Coefficients{K2: math.NaN()})
	test.That(t, errors.Is(err, ErrInvalidDistortion), test.ShouldBeTrue)

	_, err = NewDistortionModel(Coefficients{P1: math.Inf(1), Model: KannalaBrandtDistortionType})
	test.That(t, errors.Is(err, ErrInvalidDistortion), test.ShouldBeTrue)

	_, err = NewDistortionModel(Coefficients{Model: "division"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "division")
}

func TestCheckValidNil(t *testing.T) {
	var bc *BrownConrady
	test.That(t, errors.Is(bc.CheckValid(), ErrInvalidDistortion), test.ShouldBeTrue)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{})
	var kb *KannalaBrandt
	test.That(t, errors.Is(kb.CheckValid(), ErrInvalidDistortion), test.ShouldBeTrue)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{
		"rectify":   Rectify,
		"Undistort": Rectify,
		"distort":   Distort,
		"restore":   Distort,
	} {
		got, err := ParseDirection(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := ParseDirection("sideways")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Rectify.String(), test.ShouldEqual, "rectify")
	test.That(t, Distort.String(), test.ShouldEqual, "distort")
}
