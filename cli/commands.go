package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/rimage"
	"github.com/autotracker/lenswarp/rimage/transform"
	"github.com/autotracker/lenswarp/undistort"
)

func runOptions(c *cli.Context) undistort.Options {
	return undistort.Options{
		Workers:      c.Int(flagWorkers),
		SkipExisting: c.Bool(flagSkipExisting),
		Border:       c.Float64(flagBorder),
	}
}

func documentPath(c *cli.Context) (string, error) {
	p := c.Path(flagJSONPath)
	info, err := os.Stat(p)
	if err != nil {
		return "", errors.Wrap(err, "calibration document not found")
	}
	if info.IsDir() {
		return "", errors.Errorf("calibration document %q is a directory", p)
	}
	return p, nil
}

// UndistortAction rectifies the images of a calibration document.
func UndistortAction(c *cli.Context) error {
	logger := loggerFrom(c)
	docPath, err := documentPath(c)
	if err != nil {
		return err
	}
	outDir := c.Path(flagOutputDir)
	if outDir == "" {
		outDir = filepath.Dir(docPath)
	}

	opts := runOptions(c)
	opts.Alpha = c.Float64(flagAlpha)
	opts.Crop = c.Bool(flagCrop) && !c.Bool(flagNoCrop)
	if opts.Family, err = familyFlag(c, rimage.FamilyAll); err != nil {
		return err
	}
	opts.ScanDir = c.Path(flagImageDir)

	res, err := undistort.RectifyDocument(c.Context, docPath, outDir, opts, logger)
	if err != nil {
		return err
	}
	return report(c, res, filepath.Join(outDir, undistort.UndistortedDocumentName))
}

// RestoreAction distorts rectified images back into the lens of a calibration document, or
// rectifies them with --undistort keeping the whole field of view.
func RestoreAction(c *cli.Context) error {
	logger := loggerFrom(c)
	docPath, err := documentPath(c)
	if err != nil {
		return err
	}
	doc, err := calibration.Load(docPath)
	if err != nil {
		return err
	}
	logger.Infow("loaded calibration", "file", docPath, "camera", doc.String())

	outDir := c.Path(flagOutputDir)
	opts := runOptions(c)
	opts.OutputDir = outDir
	if opts.Direction, err = transform.ParseDirection(c.String(flagDirection)); err != nil {
		return err
	}
	if c.Bool(flagUndistort) {
		opts.Direction = transform.Rectify
	}
	if opts.Direction == transform.Rectify {
		opts.Alpha = 1
	}

	imageDir := c.Path(flagImageDir)
	switch {
	case imageDir != "" || c.Bool(flagFloatOnly) || c.IsSet(flagFamily):
		opts.ScanDir = imageDir
		if opts.ScanDir == "" {
			opts.ScanDir = filepath.Dir(docPath)
		}
		if opts.Family, err = familyFlag(c, rimage.FamilyLDR); err != nil {
			return err
		}
		logger.Infow("scanning for images instead of using the document's frames", "dir", opts.ScanDir, "family", opts.Family)
	default:
		opts.ImageRoot = filepath.Dir(docPath)
	}

	if s := c.String(flagLinearCamera); s != "" {
		if opts.LinearCamera, err = parseLinearCamera(s, doc.Intrinsics.Size().X, doc.Intrinsics.Size().Y); err != nil {
			return err
		}
	}

	res, err := undistort.Run(c.Context, doc, opts, logger)
	if err != nil {
		return err
	}
	outDoc := filepath.Join(outDir, undistort.RestoredDocumentName)
	if res.Written() > 0 {
		if err := res.Document.WriteFile(outDoc); err != nil {
			return err
		}
	}
	return report(c, res, outDoc)
}

// familyFlag reads --family, with --float-only taking precedence. def applies when neither is set.
func familyFlag(c *cli.Context, def rimage.Family) (rimage.Family, error) {
	switch {
	case c.Bool(flagFloatOnly):
		return rimage.FamilyFloat, nil
	case c.IsSet(flagFamily):
		return rimage.ParseFamily(c.String(flagFamily))
	default:
		return def, nil
	}
}

// parseLinearCamera reads "fx,fy,cx,cy" or "fx,fy,cx,cy,width,height". The size defaults to
// width x height.
func parseLinearCamera(s string, width, height int) (*transform.PinholeCameraIntrinsics, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 && len(parts) != 6 {
		return nil, errors.Errorf("linear camera needs 4 or 6 comma separated values, got %d", len(parts))
	}
	values := make([]float64, 4)
	for i := range values {
		v, err := cast.ToFloat64E(strings.TrimSpace(parts[i]))
		if err != nil {
			return nil, errors.Wrapf(err, "linear camera value %d", i+1)
		}
		values[i] = v
	}
	if len(parts) == 6 {
		var err error
		if width, err = cast.ToIntE(strings.TrimSpace(parts[4])); err != nil {
			return nil, errors.Wrap(err, "linear camera width")
		}
		if height, err = cast.ToIntE(strings.TrimSpace(parts[5])); err != nil {
			return nil, errors.Wrap(err, "linear camera height")
		}
	}
	cam := &transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     values[0],
		Fy:     values[1],
		Ppx:    values[2],
		Ppy:    values[3],
	}
	if err := cam.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid linear camera")
	}
	return cam, nil
}

func report(c *cli.Context, res *undistort.Result, docPath string) error {
	if res.Written() == 0 {
		infof(c.App.Writer, "no images were processed, nothing written")
		return nil
	}
	t := newTable("Processed", "Reused", "Skipped", "Size", "Document")
	t.AppendRow(table.Row{
		res.Processed,
		res.Reused,
		len(res.Skipped),
		fmt.Sprintf("%dx%d", res.Intrinsics.Width, res.Intrinsics.Height),
		docPath,
	})
	printf(c.App.Writer, "%s", t.Render())
	if len(res.Skipped) > 0 {
		warningf(c.App.Writer, "skipped: %s", strings.Join(res.Skipped, ", "))
	}
	return nil
}

// ScenesAction rectifies every scene folder of a directory.
func ScenesAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return errors.New("scenes needs a directory")
	}
	reports, err := undistort.RunScenes(c.Context, dir, runOptions(c), loggerFrom(c))
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		infof(c.App.Writer, "no scenes found in %s", dir)
		return nil
	}

	failed := 0
	t := newTable("Scene", "Status", "Processed", "Skipped")
	for _, r := range reports {
		status, processed, skipped := "done", 0, 0
		switch {
		case r.Existing:
			status = "already rectified"
		case r.Err != nil:
			status = "failed: " + r.Err.Error()
			failed++
		default:
			processed, skipped = r.Result.Written(), len(r.Result.Skipped)
			if processed == 0 {
				status = "no images"
			}
		}
		t.AppendRow(table.Row{r.Name, status, processed, skipped})
	}
	printf(c.App.Writer, "%s", t.Render())
	if failed > 0 {
		return errors.Errorf("%d of %d scenes failed", failed, len(reports))
	}
	return nil
}

// CheckAction prints the rectified camera, crop windows and round trip error of a document.
func CheckAction(c *cli.Context) error {
	docPath, err := documentPath(c)
	if err != nil {
		return err
	}
	doc, err := calibration.Load(docPath)
	if err != nil {
		return err
	}
	d, err := undistort.Diagnose(doc)
	if err != nil {
		return err
	}

	camera := func(intr *transform.PinholeCameraIntrinsics) string {
		return fmt.Sprintf("%dx%d fx=%.3f fy=%.3f cx=%.3f cy=%.3f",
			intr.Width, intr.Height, intr.Fx, intr.Fy, intr.Ppx, intr.Ppy)
	}
	t := newTable("Property", "Value")
	t.AppendRows([]table.Row{
		{"model", d.Model},
		{"identity", d.Identity},
		{"camera", camera(d.Intrinsics)},
		{"rectified camera", camera(d.Rectified)},
		{"crop window (alpha 0)", d.TightROI},
		{"crop window (alpha 1)", d.FullROI},
		{"round trip error mean (px)", fmt.Sprintf("%.3g", d.Residual.Mean)},
		{"round trip error median (px)", fmt.Sprintf("%.3g", d.Residual.Median)},
		{"round trip error p95 (px)", fmt.Sprintf("%.3g", d.Residual.P95)},
		{"round trip error max (px)", fmt.Sprintf("%.3g", d.Residual.Max)},
		{"non-invertible samples", d.Residual.Invalid},
	})
	printf(c.App.Writer, "%s", t.Render())

	if plotPath := c.Path(flagPlot); plotPath != "" {
		if err := writeRadialPlot(d, plotPath); err != nil {
			return errors.Wrap(err, "cannot write plot")
		}
		infof(c.App.Writer, "wrote %s", plotPath)
	}
	return nil
}

func writeRadialPlot(d *undistort.Diagnostics, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s lens displacement", d.Model)
	p.X.Label.Text = "distance from principal point (px)"
	p.Y.Label.Text = "displacement (px)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(d.Radial))
	for i, s := range d.Radial {
		pts[i].X = s.Radius
		pts[i].Y = s.Displacement
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Color = plotutil.Color(0)
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// SchemaAction prints the calibration document JSON schema.
func SchemaAction(c *cli.Context) error {
	data, err := calibration.JSONSchemaBytes()
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", data)
	return nil
}
