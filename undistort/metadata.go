package undistort

import (
	"image"
	"path"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/rimage/transform"
	"github.com/autotracker/lenswarp/utils"
)

// Rewrite returns the document describing rectified imagery: the intrinsics become newIntr, all
// lens coefficients are zero and the model is a plain pinhole. When cropped, the frame size is
// the size of roi and the principal point moves with its origin. Frames are relinked as by Relink.
func Rewrite(
	doc *calibration.Document,
	newIntr *transform.PinholeCameraIntrinsics,
	roi image.Rectangle,
	cropped bool,
	subdir string,
	written map[int]string,
) *calibration.Document {
	out := Relink(doc, subdir, written)
	intr := newIntr.Clone()
	if cropped {
		intr = newIntr.Shifted(roi)
	}
	out.Intrinsics = *intr
	out.Distortion = transform.Coefficients{Model: transform.BrownConradyDistortionType}
	if out.CameraModel != "" {
		out.CameraModel = calibration.PinholeCameraModel
	}
	return out
}

// Relink returns a copy of doc keeping only the frames with an entry in written, keyed by frame
// index, each pointing at subdir/<written name>. Intrinsics and coefficients are unchanged.
func Relink(doc *calibration.Document, subdir string, written map[int]string) *calibration.Document {
	out := doc.Clone()
	frames := make([]calibration.Frame, 0, len(written))
	for i, f := range out.Frames {
		name, ok := written[i]
		if !ok {
			continue
		}
		f.FilePath = relPath(subdir, name)
		frames = append(frames, f)
	}
	out.Frames = frames
	return out
}

func relPath(subdir, name string) string {
	if subdir == "" {
		return name
	}
	return path.Join(utils.NormalizeSlashPath(subdir), name)
}
