package undistort

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/logging"
	"github.com/autotracker/lenswarp/rimage/transform"
	"github.com/autotracker/lenswarp/utils"
)

const (
	// SceneOutputDir is the folder of a scene that rectified output goes to.
	SceneOutputDir = "undistort"
	sceneDocSuffix = "_transforms.json"
	sceneDocName   = "transforms.json"
)

// RectifyDocument rectifies the images of the document at docPath into outDir/ImageSubdir and
// writes outDir/transforms_undistorted.json. Frame paths resolve against the document's
// directory unless opts names an image root or a scan directory. No document is written when
// no image was produced.
func RectifyDocument(ctx context.Context, docPath, outDir string, opts Options, logger logging.Logger) (*Result, error) {
	doc, err := calibration.Load(docPath)
	if err != nil {
		return nil, err
	}
	logger.Infow("loaded calibration", "file", docPath, "camera", doc.String())

	opts.Direction = transform.Rectify
	if opts.ImageSubdir == "" {
		opts.ImageSubdir = DefaultImageSubdir
	}
	opts.OutputDir = filepath.Join(outDir, filepath.FromSlash(opts.ImageSubdir))
	if opts.ImageRoot == "" {
		opts.ImageRoot = filepath.Dir(docPath)
	}

	res, err := Run(ctx, doc, opts, logger)
	if err != nil {
		return nil, err
	}
	if res.Written() == 0 {
		return res, nil
	}
	outDoc := filepath.Join(outDir, UndistortedDocumentName)
	if err := res.Document.WriteFile(outDoc); err != nil {
		return nil, err
	}
	logger.Infow("wrote calibration", "file", outDoc, "frames", len(res.Document.Frames))
	return res, nil
}

// Scene is a reconstruction folder with a calibration document.
type Scene struct {
	Name string
	Dir  string
	// Document is either <root>/<name>_transforms.json or <root>/<name>/transforms.json.
	Document string
}

// OutputDir is where the scene's rectified output goes.
func (s Scene) OutputDir() string {
	return filepath.Join(s.Dir, SceneOutputDir)
}

// Done reports whether the scene already has a rectified document.
func (s Scene) Done() bool {
	return utils.FileExistsNonEmpty(filepath.Join(s.OutputDir(), UndistortedDocumentName))
}

// FindScenes lists the folders of root that have a calibration document, sorted by name.
// Hidden folders are ignored.
func FindScenes(root string) ([]Scene, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list scenes in %q", root)
	}
	var scenes []Scene
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		s := Scene{Name: e.Name(), Dir: filepath.Join(root, e.Name())}
		for _, candidate := range []string{
			filepath.Join(root, e.Name()+sceneDocSuffix),
			filepath.Join(s.Dir, sceneDocName),
		} {
			if utils.FileExistsNonEmpty(candidate) {
				s.Document = candidate
				break
			}
		}
		if s.Document != "" {
			scenes = append(scenes, s)
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Name < scenes[j].Name })
	return scenes, nil
}

// SceneReport is the outcome of one scene of RunScenes.
type SceneReport struct {
	Scene
	// Existing is true when the scene was already rectified and left alone.
	Existing bool
	Result   *Result
	Err      error
}

// RunScenes rectifies every scene of root without cropping. Scenes that already have output are
// skipped and a failing scene does not stop the others. Only cancellation is returned as an
// error.
func RunScenes(ctx context.Context, root string, opts Options, logger logging.Logger) ([]SceneReport, error) {
	scenes, err := FindScenes(root)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		logger.Infow("no scenes found", "dir", root)
		return nil, nil
	}

	reports := make([]SceneReport, 0, len(scenes))
	for _, s := range scenes {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		sceneLogger := logger.Sublogger(s.Name)
		report := SceneReport{Scene: s}
		if s.Done() {
			sceneLogger.Infow("scene already rectified, skipping", "dir", s.OutputDir())
			report.Existing = true
			reports = append(reports, report)
			continue
		}

		sceneOpts := opts
		sceneOpts.Crop = false
		sceneOpts.ImageRoot = ""
		sceneOpts.ScanDir = ""
		report.Result, report.Err = RectifyDocument(ctx, s.Document, s.OutputDir(), sceneOpts, sceneLogger)
		if report.Err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			sceneLogger.Errorw("scene failed", "error", report.Err.Error())
		}
		reports = append(reports, report)
	}
	return reports, nil
}
