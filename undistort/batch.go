// Package undistort runs a lens correction over a batch of images and keeps the calibration
// document in step with the imagery it produces.
package undistort

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/logging"
	"github.com/autotracker/lenswarp/rimage"
	"github.com/autotracker/lenswarp/rimage/transform"
	"github.com/autotracker/lenswarp/utils"
)

const (
	// DefaultImageSubdir is the image directory written next to a rectified document.
	DefaultImageSubdir = "images_undistorted"
	// UndistortedDocumentName is the file name of a rectified document.
	UndistortedDocumentName = "transforms_undistorted.json"
	// RestoredDocumentName is the file name of a document written by a restore run.
	RestoredDocumentName = "transforms_restored.json"

	progressEvery = 10
)

// Options configure a Run.
type Options struct {
	Direction transform.Direction
	// Alpha selects the crop window between the tightest all-valid rectangle (0) and the full
	// frame (1). Only used when rectifying.
	Alpha float64
	// Crop cuts rectified images to the crop window and shrinks the intrinsics to match.
	Crop bool
	// ImageRoot is the directory frame paths are relative to.
	ImageRoot string
	// ScanDir, when set, replaces the document's frame list with the images found in it.
	ScanDir string
	Family  rimage.Family
	// OutputDir receives the images. It is created when missing.
	OutputDir string
	// ImageSubdir prefixes the frame paths of the output document.
	ImageSubdir string
	// LinearCamera is the camera of the rectified images a Distort run reads. When nil the full
	// field of view rectified camera of the document is assumed.
	LinearCamera *transform.PinholeCameraIntrinsics
	Border       float64
	// Workers bounds the frames processed at once. Zero means GOMAXPROCS.
	Workers int
	// SkipExisting reuses outputs that already exist instead of warping them again.
	SkipExisting bool
}

// Validate checks the options.
func (opts *Options) Validate() error {
	if opts.Direction != transform.Rectify && opts.Direction != transform.Distort {
		return errors.Errorf("unknown direction %d", opts.Direction)
	}
	if math.IsNaN(opts.Alpha) || opts.Alpha < 0 || opts.Alpha > 1 {
		return errors.Errorf("alpha must be within [0, 1], got %v", opts.Alpha)
	}
	if !utils.AllFinite(opts.Border) {
		return errors.Errorf("border value must be finite, got %v", opts.Border)
	}
	if opts.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if opts.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", opts.Workers)
	}
	if opts.LinearCamera != nil {
		if err := opts.LinearCamera.CheckValid(); err != nil {
			return errors.Wrap(err, "invalid linear camera")
		}
	}
	return nil
}

// Result describes a finished run.
type Result struct {
	// Document is the calibration matching the written images.
	Document  *calibration.Document
	Processed int
	Reused    int
	// Skipped lists the names of frames that produced no output.
	Skipped []string
	// ROI is the crop window inside the rectified canvas.
	ROI image.Rectangle
	// Intrinsics is the camera of the written images.
	Intrinsics *transform.PinholeCameraIntrinsics
}

// Written returns the number of frames in the output document.
func (r *Result) Written() int {
	return r.Processed + r.Reused
}

type outcome struct {
	written string
	reused  bool
	bytes   int64
	skip    error
}

type frameWorker struct {
	table        *transform.RemapTable
	srcSize      image.Point
	roi          image.Rectangle
	crop         bool
	outputDir    string
	border       float64
	skipExisting bool
	logger       logging.Logger
}

// Run builds the remap table for doc once and applies it to every frame. Frames that cannot be
// read, decoded, warped or written are skipped with a warning and left out of the result
// document. Errors are returned for invalid input, table construction, the output directory and
// cancellation only.
func Run(ctx context.Context, doc *calibration.Document, opts Options, logger logging.Logger) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "undistort::Run")
	defer span.End()

	if doc == nil {
		return nil, errors.New("no calibration document")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	model, err := doc.Model()
	if err != nil {
		return nil, err
	}
	logger = logger.WithFields("run_id", uuid.NewString())

	intr := doc.Intrinsics.Clone()
	if !intr.PrincipalPointInFrame() {
		logger.Debugw("principal point lies outside the frame", "cx", intr.Ppx, "cy", intr.Ppy)
	}

	// cam is the rectified camera: the destination of Rectify and the source of Distort.
	var (
		cam     *transform.PinholeCameraIntrinsics
		roi     image.Rectangle
		srcSize image.Point
	)
	switch opts.Direction {
	case transform.Rectify:
		cam, roi, err = model.OptimalIntrinsics(intr, opts.Alpha)
		if err != nil {
			return nil, err
		}
		srcSize = intr.Size()
	case transform.Distort:
		cam = opts.LinearCamera.Clone()
		if cam == nil {
			cam, _, err = model.OptimalIntrinsics(intr, 1)
			if err != nil {
				return nil, err
			}
			logger.Infow("no linear camera given, assuming the full field of view rectified camera",
				"fx", cam.Fx, "fy", cam.Fy, "cx", cam.Ppx, "cy", cam.Ppy)
		}
		if opts.Crop {
			logger.Debug("crop is ignored when distorting")
		}
		roi = intr.Bounds()
		srcSize = cam.Size()
	}
	crop := opts.Crop && opts.Direction == transform.Rectify

	var jobs []job
	if opts.ScanDir != "" {
		if jobs, err = scanJobs(doc, opts.ScanDir, opts.Family); err != nil {
			return nil, err
		}
	} else {
		root := opts.ImageRoot
		if root == "" {
			root = "."
		}
		jobs = documentJobs(doc, root, opts.Family)
		if dropped := len(doc.Frames) - len(jobs); dropped > 0 {
			logger.Debugw("frames outside the image family ignored", "family", opts.Family, "count", dropped)
		}
	}

	if n := markOutputConflicts(jobs); n > 0 {
		logger.Warnw("frames share an output name, only the first is written", "count", n)
	}

	runDoc := doc.Clone()
	runDoc.Frames = lo.Map(jobs, func(j job, _ int) calibration.Frame { return j.frame })
	finish := func(written map[int]string) *calibration.Document {
		if opts.Direction == transform.Rectify {
			return Rewrite(runDoc, cam, roi, crop, opts.ImageSubdir, written)
		}
		return Relink(runDoc, opts.ImageSubdir, written)
	}

	res := &Result{ROI: roi}
	if len(jobs) == 0 {
		logger.Info("no images to process")
		res.Document = finish(nil)
		res.Intrinsics = res.Document.Intrinsics.Clone()
		return res, nil
	}

	//nolint:gosec
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create output directory %q", opts.OutputDir)
	}

	start := time.Now()
	table, err := transform.BuildRemapTable(ctx, intr, model, cam, intr.Size(), opts.Direction)
	if err != nil {
		return nil, err
	}
	logger.Debugw("remap table built", "direction", opts.Direction, "width", table.Width, "height", table.Height,
		"elapsed", time.Since(start))

	worker := &frameWorker{
		table:        table,
		srcSize:      srcSize,
		roi:          roi,
		crop:         crop,
		outputDir:    opts.OutputDir,
		border:       opts.Border,
		skipExisting: opts.SkipExisting,
		logger:       logger,
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger.Infow("processing images", "count", len(jobs), "workers", workers, "direction", opts.Direction)

	outcomes := make([]outcome, len(jobs))
	done := atomic.NewInt64(0)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := range jobs {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			o, err := worker.process(groupCtx, jobs[i])
			if err != nil {
				return err
			}
			outcomes[i] = o
			if n := done.Inc(); n%progressEvery == 0 {
				logger.Infof("processed %d/%d images", n, len(jobs))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	written := make(map[int]string, len(jobs))
	var (
		skipErr error
		total   int64
	)
	for i, o := range outcomes {
		if o.skip != nil {
			res.Skipped = append(res.Skipped, jobs[i].name)
			skipErr = multierr.Append(skipErr, o.skip)
			continue
		}
		written[i] = o.written
		total += o.bytes
		if o.reused {
			res.Reused++
		} else {
			res.Processed++
		}
	}
	if skipErr != nil {
		logger.Warnw("some images were skipped", "count", len(res.Skipped), "reasons", skipErr.Error())
	}

	res.Document = finish(written)
	res.Intrinsics = res.Document.Intrinsics.Clone()
	logger.Infow("batch complete",
		"processed", res.Processed,
		"reused", res.Reused,
		"skipped", len(res.Skipped),
		"output_size", units.HumanSize(float64(total)),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (w *frameWorker) process(ctx context.Context, j job) (outcome, error) {
	ctx, span := trace.StartSpan(ctx, "undistort::processFrame")
	defer span.End()

	skip := func(reason string, err error) (outcome, error) {
		w.logger.Warnw("skipping image", "file", j.name, "reason", reason, "error", err.Error())
		return outcome{skip: errors.Wrapf(err, "%s: %s", j.name, reason)}, nil
	}

	if j.resolveErr != nil {
		return skip("cannot resolve image path", j.resolveErr)
	}
	if j.conflict != nil {
		return skip("another frame has the same output name", j.conflict)
	}
	requested := filepath.Join(w.outputDir, j.name)
	outPath := rimage.EncodedPath(requested)
	if sameFile(j.path, outPath) {
		return skip("output would overwrite the input", errors.Errorf("%q", outPath))
	}
	if w.skipExisting && utils.FileExistsNonEmpty(outPath) {
		w.logger.Debugw("reusing existing output", "file", outPath)
		return outcome{written: filepath.Base(outPath), reused: true, bytes: fileSize(outPath)}, nil
	}
	if _, err := os.Stat(j.path); err != nil {
		return skip("image not found", err)
	}

	img, err := rimage.ReadImageFromFile(ctx, j.path)
	if err != nil {
		return skip("cannot read image", err)
	}
	if size := img.Bounds().Size(); size != w.srcSize {
		return skip("image size does not match the camera", errors.Errorf("got %v, want %v", size, w.srcSize))
	}

	out, err := transform.WarpImage(ctx, img, w.table, w.border)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, ctx.Err()
		}
		return skip("cannot warp image", err)
	}
	if w.crop {
		if out, err = rimage.Crop(out, w.roi); err != nil {
			return skip("cannot crop image", err)
		}
	}

	writtenPath, err := rimage.WriteImageToFile(ctx, requested, out, w.logger)
	if err != nil {
		utils.RemoveFileNoError(outPath)
		return skip("cannot write image", err)
	}
	return outcome{written: filepath.Base(writtenPath), bytes: fileSize(writtenPath)}, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func fileSize(p string) int64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.Size()
}
