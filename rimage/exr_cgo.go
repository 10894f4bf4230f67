//go:build !no_cgo

package rimage

import (
	"image"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCV only enables its OpenEXR codec when this variable is set before first use.
const openEXREnv = "OPENCV_IO_ENABLE_OPENEXR"

// cv::IMWRITE_EXR_TYPE and its values. gocv does not export them.
const (
	imwriteEXRType  = 48
	imwriteEXRHalf  = 1
	imwriteEXRFloat = 2
	cvDepth16F      = 7
	cvDepthMask     = 7
)

func init() {
	if _, ok := os.LookupEnv(openEXREnv); !ok {
		//nolint:errcheck
		os.Setenv(openEXREnv, "1")
	}
}

// readEXR decodes an OpenEXR file into float32 samples in RGB(A) order.
func readEXR(path string) (*FloatImage, error) {
	mat := gocv.IMRead(path, gocv.IMReadUnchanged)
	defer mat.Close() //nolint:errcheck
	if mat.Empty() {
		return nil, errors.Errorf("cannot decode %q as OpenEXR", path)
	}

	half := int(mat.Type())&cvDepthMask == cvDepth16F
	floatMat := gocv.NewMat()
	defer floatMat.Close() //nolint:errcheck
	mat.ConvertTo(&floatMat, gocv.MatTypeCV32F)

	out, err := NewFloatImage(image.Rect(0, 0, floatMat.Cols(), floatMat.Rows()), floatMat.Channels())
	if err != nil {
		return nil, errors.Wrapf(err, "cannot use %q", path)
	}
	samples, err := floatMat.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read samples of %q", path)
	}
	copy(out.Pix, samples)
	swapRedBlue(out)
	out.HalfPrecision = half
	return out, nil
}

// writeEXR encodes img as OpenEXR, as half floats when the source was half precision.
func writeEXR(path string, img *FloatImage) error {
	var matType gocv.MatType
	switch img.Channels {
	case 1:
		matType = gocv.MatTypeCV32FC1
	case 3:
		matType = gocv.MatTypeCV32FC3
	default:
		matType = gocv.MatTypeCV32FC4
	}

	bgr := &FloatImage{
		Pix:      make([]float32, 0, img.Width()*img.Height()*img.Channels),
		Stride:   img.Width() * img.Channels,
		Channels: img.Channels,
		Rect:     image.Rect(0, 0, img.Width(), img.Height()),
	}
	rowLen := img.Width() * img.Channels
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		i := img.PixOffset(img.Rect.Min.X, y)
		bgr.Pix = append(bgr.Pix, img.Pix[i:i+rowLen]...)
	}
	swapRedBlue(bgr)

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&bgr.Pix[0])), len(bgr.Pix)*4)
	mat, err := gocv.NewMatFromBytes(img.Height(), img.Width(), matType, raw)
	if err != nil {
		return errors.Wrap(err, "cannot build OpenEXR buffer")
	}
	defer mat.Close() //nolint:errcheck

	exrType := imwriteEXRFloat
	if img.HalfPrecision {
		exrType = imwriteEXRHalf
	}
	if !gocv.IMWriteWithParams(path, mat, []int{imwriteEXRType, exrType}) {
		return errors.Errorf("OpenEXR encoder rejected %q", path)
	}
	return nil
}

// swapRedBlue converts between OpenCV's BGR(A) order and RGB(A) in place.
func swapRedBlue(img *FloatImage) {
	if img.Channels < 3 {
		return
	}
	for i := 0; i+2 < len(img.Pix); i += img.Channels {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
	}
}
