//go:build no_cgo

package rimage

import "github.com/pkg/errors"

func readEXR(path string) (*FloatImage, error) {
	return nil, errors.Wrapf(ErrUnsupportedFormat, "OpenEXR support requires a cgo build, cannot read %q", path)
}

func writeEXR(path string, img *FloatImage) error {
	return errors.Wrapf(ErrUnsupportedFormat, "OpenEXR support requires a cgo build, cannot write %q", path)
}
