// Package cli contains the lenswarp command line.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/autotracker/lenswarp/logging"
	"github.com/autotracker/lenswarp/rimage/transform"
)

const (
	// Flags.
	generalFlagDebug = "debug"

	flagJSONPath     = "json-path"
	flagOutputDir    = "output-dir"
	flagImageDir     = "image-dir"
	flagCrop         = "crop"
	flagNoCrop       = "no-crop"
	flagAlpha        = "alpha"
	flagFloatOnly    = "float-only"
	flagWorkers      = "workers"
	flagSkipExisting = "skip-existing"
	flagUndistort    = "undistort"
	flagLinearCamera = "linear-camera"
	flagBorder       = "border"
	flagPlot         = "plot"
	flagFamily       = "family"
	flagDirection    = "direction"
	flagLogLevel     = "log-level"

	defaultRestoreDir = "restored_output"

	loggerMetadataKey = "logger"
)

func commonRunFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagWorkers,
			Usage: "number of images processed at once (0 uses every CPU)",
		},
		&cli.BoolFlag{
			Name:  flagSkipExisting,
			Usage: "keep outputs that already exist instead of processing them again",
		},
		&cli.Float64Flag{
			Name:  flagBorder,
			Usage: "value of pixels with no source",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "lenswarp",
		Usage:           "remove or restore lens distortion of calibrated image sequences",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "minimum level logged: debug, info, warn or error",
			},
		},
		Before: func(c *cli.Context) error {
			logger := logging.NewBlankLogger("lenswarp")
			logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			if c.Bool(generalFlagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]interface{}{}
			}
			c.App.Metadata[loggerMetadataKey] = logger
			logging.ReplaceGlobal(logger)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "undistort",
				Usage: "rectify the images of a calibration document",
				UsageText: fmt.Sprintf("lenswarp undistort --%s <file> [--%s <dir>] [other options]",
					flagJSONPath, flagOutputDir),
				Flags: append([]cli.Flag{
					&cli.PathFlag{
						Name:     flagJSONPath,
						Required: true,
						Usage:    "calibration document (transforms.json)",
					},
					&cli.PathFlag{
						Name:  flagOutputDir,
						Usage: "directory for the rectified images and document (defaults to the document's directory)",
					},
					&cli.PathFlag{
						Name:  flagImageDir,
						Usage: "process every image in this directory instead of the document's frames",
					},
					&cli.BoolFlag{
						Name:  flagCrop,
						Value: true,
						Usage: "crop to the valid region selected by --alpha",
					},
					&cli.BoolFlag{
						Name:  flagNoCrop,
						Usage: "keep the full canvas",
					},
					&cli.Float64Flag{
						Name:  flagAlpha,
						Usage: "0 crops to valid pixels only, 1 keeps the whole field of view",
					},
					&cli.BoolFlag{
						Name:    flagFloatOnly,
						Aliases: []string{"exr"},
						Usage:   "only process floating point images (.exr, .pfm, .hdr)",
					},
					&cli.StringFlag{
						Name:  flagFamily,
						Usage: "only process images of this family: all, ldr or float",
					},
				}, commonRunFlags()...),
				Action: UndistortAction,
			},
			{
				Name:  "restore",
				Usage: "apply the lens distortion of a calibration document to rectified images",
				UsageText: fmt.Sprintf("lenswarp restore --%s <file> [--%s <dir>] [other options]",
					flagJSONPath, flagOutputDir),
				Flags: append([]cli.Flag{
					&cli.PathFlag{
						Name:     flagJSONPath,
						Required: true,
						Usage:    "calibration document (transforms.json)",
					},
					&cli.PathFlag{
						Name:  flagOutputDir,
						Value: defaultRestoreDir,
						Usage: "directory for the output images and document",
					},
					&cli.PathFlag{
						Name:  flagImageDir,
						Usage: "process every image in this directory instead of the document's frames",
					},
					&cli.StringFlag{
						Name:  flagDirection,
						Value: transform.Distort.String(),
						Usage: "distort (restore the lens) or rectify (remove it)",
					},
					&cli.BoolFlag{
						Name:  flagUndistort,
						Usage: "shorthand for --direction rectify",
					},
					&cli.BoolFlag{
						Name:    flagFloatOnly,
						Aliases: []string{"exr"},
						Usage:   "scan for floating point images (.exr, .pfm, .hdr)",
					},
					&cli.StringFlag{
						Name:  flagFamily,
						Usage: "scan for images of this family: all, ldr or float",
					},
					&cli.StringFlag{
						Name:  flagLinearCamera,
						Usage: "camera of the rectified input as fx,fy,cx,cy[,width,height]",
					},
				}, commonRunFlags()...),
				Action: RestoreAction,
			},
			{
				Name:      "scenes",
				Usage:     "rectify every reconstructed scene in a directory",
				ArgsUsage: "<dir>",
				Flags:     commonRunFlags(),
				Action:    ScenesAction,
			},
			{
				Name:  "check",
				Usage: "print what the lens model of a calibration document does",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagJSONPath,
						Required: true,
						Usage:    "calibration document (transforms.json)",
					},
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "write a radial displacement plot to this PNG",
					},
				},
				Action: CheckAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of calibration documents",
				Action: SchemaAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI function pointers set to the given writers.
func NewApp(out, errOut io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func loggerFrom(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerMetadataKey].(logging.Logger); ok {
		return logger
	}
	return logging.Global()
}
