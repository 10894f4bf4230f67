package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/autotracker/lenswarp/logging"
	"github.com/autotracker/lenswarp/rimage"
	"github.com/autotracker/lenswarp/undistort"
	"github.com/autotracker/lenswarp/utils"
)

const smallDoc = `{"w": 64, "h": 48, "fl_x": 60, "fl_y": 60, "cx": 32, "cy": 24, "k1": -0.1,
	"frames": [{"file_path": "images/frame_001.png"}, {"file_path": "images/frame_002.png"}]}`

func setup(t *testing.T, doc string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "transforms.json")
	test.That(t, os.WriteFile(docPath, []byte(doc), 0o644), test.ShouldBeNil)

	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(4 * x), uint8(5 * y), 128, 255})
		}
	}
	test.That(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755), test.ShouldBeNil)
	for _, name := range []string{"frame_001.png", "frame_002.png"} {
		_, err := rimage.WriteImageToFile(context.Background(), filepath.Join(dir, "images", name), img, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
	}
	return dir, docPath
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"lenswarp"}, args...))
	return out.String(), errOut.String(), err
}

func TestUndistortCommand(t *testing.T) {
	dir, docPath := setup(t, smallDoc)
	outDir := filepath.Join(dir, "out")

	out, _, err := run(t, "undistort", "--json-path", docPath, "--output-dir", outDir, "--no-crop", "--workers", "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, undistort.UndistortedDocumentName)

	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.UndistortedDocumentName)), test.ShouldBeTrue)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.DefaultImageSubdir, "frame_001.png")), test.ShouldBeTrue)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.DefaultImageSubdir, "frame_002.png")), test.ShouldBeTrue)
}

func TestUndistortCommandDefaultsToDocumentDir(t *testing.T) {
	dir, docPath := setup(t, smallDoc)

	_, _, err := run(t, "undistort", "--json-path", docPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(dir, undistort.UndistortedDocumentName)), test.ShouldBeTrue)
}

func TestUndistortCommandNoImages(t *testing.T) {
	dir, docPath := setup(t, `{"w": 64, "h": 48, "fl_x": 60}`)

	out, _, err := run(t, "undistort", "--json-path", docPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Info: no images were processed")
	_, err = os.Stat(filepath.Join(dir, undistort.UndistortedDocumentName))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestUndistortCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := run(t, "undistort", "--json-path", filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not found")

	_, _, err = run(t, "undistort", "--json-path", dir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "is a directory")

	_, _, err = run(t, "undistort")
	test.That(t, err, test.ShouldNotBeNil)

	_, docPath := setup(t, `{"w": 64, "h": 48}`)
	_, _, err = run(t, "undistort", "--json-path", docPath)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fl_x")
}

func TestRestoreCommand(t *testing.T) {
	dir, docPath := setup(t, smallDoc)
	outDir := filepath.Join(dir, "restored")

	out, errOut, err := run(t, "restore", "--json-path", docPath, "--output-dir", outDir, "--linear-camera", "60,60,32,24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, undistort.RestoredDocumentName)
	test.That(t, errOut, test.ShouldContainSubstring, "loaded calibration")
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.RestoredDocumentName)), test.ShouldBeTrue)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, "frame_001.png")), test.ShouldBeTrue)
}

func TestRestoreCommandScan(t *testing.T) {
	dir, docPath := setup(t, smallDoc)
	outDir := filepath.Join(dir, "restored")

	_, _, err := run(t, "restore", "--json-path", docPath, "--output-dir", outDir,
		"--image-dir", filepath.Join(dir, "images"), "--undistort")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, "frame_002.png")), test.ShouldBeTrue)

	// no float images next to the document
	out, _, err := run(t, "restore", "--json-path", docPath, "--output-dir", filepath.Join(dir, "none"), "--exr")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "nothing written")
}

func TestParseLinearCamera(t *testing.T) {
	cam, err := parseLinearCamera("500, 510,320,240", 640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Width, test.ShouldEqual, 640)
	test.That(t, cam.Height, test.ShouldEqual, 480)
	test.That(t, cam.Fx, test.ShouldEqual, 500.0)
	test.That(t, cam.Fy, test.ShouldEqual, 510.0)
	test.That(t, cam.Ppx, test.ShouldEqual, 320.0)
	test.That(t, cam.Ppy, test.ShouldEqual, 240.0)

	cam, err = parseLinearCamera("500,500,400,300,800,600", 640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Width, test.ShouldEqual, 800)
	test.That(t, cam.Height, test.ShouldEqual, 600)

	_, err = parseLinearCamera("500,500,320", 640, 480)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "4 or 6")

	_, err = parseLinearCamera("500,abc,320,240", 640, 480)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "value 2")

	_, err = parseLinearCamera("0,500,320,240", 640, 480)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestScenesCommand(t *testing.T) {
	_, _, err := run(t, "scenes")
	test.That(t, err, test.ShouldNotBeNil)

	out, _, err := run(t, "scenes", t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "no scenes found")

	root := t.TempDir()
	sceneDir := filepath.Join(root, "alpha")
	dir, _ := setup(t, smallDoc)
	test.That(t, os.Rename(dir, sceneDir), test.ShouldBeNil)

	out, _, err = run(t, "scenes", root)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "alpha")
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(sceneDir, undistort.SceneOutputDir, undistort.UndistortedDocumentName)),
		test.ShouldBeTrue)

	out, _, err = run(t, "scenes", root)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "already rectified")
}

func TestCheckCommand(t *testing.T) {
	dir, docPath := setup(t, smallDoc)
	plotPath := filepath.Join(dir, "radial.png")

	out, _, err := run(t, "check", "--json-path", docPath, "--plot", plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "rectified camera")
	test.That(t, out, test.ShouldContainSubstring, "64x48 fx=60.000")
	test.That(t, out, test.ShouldContainSubstring, "Info: wrote "+plotPath)
	test.That(t, utils.FileExistsNonEmpty(plotPath), test.ShouldBeTrue)
}

func TestSchemaCommand(t *testing.T) {
	out, _, err := run(t, "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"fl_x"`)
	test.That(t, out, test.ShouldContainSubstring, `"file_path"`)
}

func TestFamilyAndDirectionFlags(t *testing.T) {
	dir, docPath := setup(t, smallDoc)

	out, _, err := run(t, "undistort", "--json-path", docPath, "--output-dir", filepath.Join(dir, "float"), "--family", "float")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "nothing written")

	_, _, err = run(t, "undistort", "--json-path", docPath, "--family", "raw")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown image family")

	_, _, err = run(t, "restore", "--json-path", docPath, "--direction", "sideways")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown remap direction")

	outDir := filepath.Join(dir, "rectified")
	_, _, err = run(t, "restore", "--json-path", docPath, "--output-dir", outDir, "--direction", "rectify", "--family", "ldr")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.RestoredDocumentName)), test.ShouldBeFalse)

	_, _, err = run(t, "restore", "--json-path", docPath, "--output-dir", outDir, "--direction", "rectify")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, "frame_001.png")), test.ShouldBeTrue)
	test.That(t, utils.FileExistsNonEmpty(filepath.Join(outDir, undistort.RestoredDocumentName)), test.ShouldBeTrue)
}

func TestLogLevelFlag(t *testing.T) {
	_, _, err := run(t, "--log-level", "loud", "schema")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")

	_, docPath := setup(t, smallDoc)
	_, errOut, err := run(t, "--log-level", "warn", "check", "--json-path", docPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldBeEmpty)
}
