// Package calibration reads, validates and writes camera calibration documents: the JSON file
// holding the intrinsics, the lens coefficients and one record per captured frame.
package calibration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/autotracker/lenswarp/rimage/transform"
	"github.com/autotracker/lenswarp/utils"
)

// ErrMissingField is returned when a required document field is absent.
var ErrMissingField = errors.New("missing required field")

// FisheyeCameraModel is the camera_model value that selects the fisheye lens model.
const FisheyeCameraModel = "OPENCV_FISHEYE"

// PinholeCameraModel is the camera_model value written for rectified imagery.
const PinholeCameraModel = "PINHOLE"

// Frame is one captured image of the document.
type Frame struct {
	FilePath string
	// Transform is the 4x4 camera-to-world matrix, or nil when the frame has none.
	Transform [][]float64
	// Extra holds every other key of the frame record, passed through untouched.
	Extra map[string]any
}

// Document is a parsed calibration document. Documents are treated as values: functions that
// produce an updated calibration return a new Document built from Clone.
type Document struct {
	Intrinsics transform.PinholeCameraIntrinsics
	Distortion transform.Coefficients
	// CameraModel is the camera_model string, empty when the document has none.
	CameraModel string
	Frames      []Frame
	// Extra holds every other top-level key, passed through untouched.
	Extra map[string]any
}

type rawFrame struct {
	FilePath  *string        `mapstructure:"file_path"`
	Transform [][]float64    `mapstructure:"transform_matrix"`
	Extra     map[string]any `mapstructure:",remain"`
}

type rawDocument struct {
	W           *float64       `mapstructure:"w"`
	H           *float64       `mapstructure:"h"`
	FlX         *float64       `mapstructure:"fl_x"`
	FlY         *float64       `mapstructure:"fl_y"`
	Cx          *float64       `mapstructure:"cx"`
	Cy          *float64       `mapstructure:"cy"`
	K1          float64        `mapstructure:"k1"`
	K2          float64        `mapstructure:"k2"`
	K3          float64        `mapstructure:"k3"`
	K4          float64        `mapstructure:"k4"`
	P1          float64        `mapstructure:"p1"`
	P2          float64        `mapstructure:"p2"`
	IsFisheye   bool           `mapstructure:"is_fisheye"`
	CameraModel string         `mapstructure:"camera_model"`
	Frames      []rawFrame     `mapstructure:"frames"`
	Extra       map[string]any `mapstructure:",remain"`
}

// Load reads and validates the calibration document at path.
func Load(path string) (*Document, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read calibration document")
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse calibration document %q", path)
	}
	return doc, nil
}

// Parse decodes and validates a calibration document. Numbers in passthrough fields keep their
// original text.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}
	if attrs == nil {
		return nil, errors.New("calibration document must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after calibration document")
	}

	var raw rawDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &raw,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, err
	}

	doc, err := raw.toDocument()
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func requiredField(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, errors.Wrapf(ErrMissingField, "%q", name)
	}
	return *v, nil
}

func pixelCount(name string, v *float64) (int, error) {
	f, err := requiredField(name, v)
	if err != nil {
		return 0, err
	}
	if math.Trunc(f) != f || math.Abs(f) > math.MaxInt32 {
		return 0, errors.Errorf("%q must be an integer, got %v", name, f)
	}
	return int(f), nil
}

func (raw *rawDocument) toDocument() (*Document, error) {
	w, err := pixelCount("w", raw.W)
	if err != nil {
		return nil, err
	}
	h, err := pixelCount("h", raw.H)
	if err != nil {
		return nil, err
	}
	fx, err := requiredField("fl_x", raw.FlX)
	if err != nil {
		return nil, err
	}
	intr := transform.PinholeCameraIntrinsics{
		Width:  w,
		Height: h,
		Fx:     fx,
		Fy:     fx,
		Ppx:    float64(w) / 2,
		Ppy:    float64(h) / 2,
	}
	if raw.FlY != nil {
		intr.Fy = *raw.FlY
	}
	if raw.Cx != nil {
		intr.Ppx = *raw.Cx
	}
	if raw.Cy != nil {
		intr.Ppy = *raw.Cy
	}

	model := transform.BrownConradyDistortionType
	if raw.IsFisheye || raw.CameraModel == FisheyeCameraModel {
		model = transform.KannalaBrandtDistortionType
	}

	doc := &Document{
		Intrinsics: intr,
		Distortion: transform.Coefficients{
			K1: raw.K1, K2: raw.K2, K3: raw.K3, K4: raw.K4,
			P1: raw.P1, P2: raw.P2,
			Model: model,
		},
		CameraModel: raw.CameraModel,
		Extra:       raw.Extra,
	}
	for i, rf := range raw.Frames {
		if rf.FilePath == nil {
			return nil, errors.Wrapf(ErrMissingField, "frame %d: %q", i, "file_path")
		}
		doc.Frames = append(doc.Frames, Frame{
			FilePath:  *rf.FilePath,
			Transform: rf.Transform,
			Extra:     rf.Extra,
		})
	}
	return doc, nil
}

// Validate checks the intrinsics, the coefficients and every frame record.
func (doc *Document) Validate() error {
	if err := doc.Intrinsics.CheckValid(); err != nil {
		return err
	}
	if _, err := doc.Model(); err != nil {
		return err
	}
	for i, f := range doc.Frames {
		if f.FilePath == "" {
			return errors.Wrapf(ErrMissingField, "frame %d: %q", i, "file_path")
		}
		if f.Transform == nil {
			continue
		}
		if len(f.Transform) != 4 {
			return errors.Errorf("frame %d: transform_matrix must be 4x4, has %d rows", i, len(f.Transform))
		}
		for r, row := range f.Transform {
			if len(row) != 4 {
				return errors.Errorf("frame %d: transform_matrix row %d has %d columns", i, r, len(row))
			}
		}
	}
	return nil
}

// Model returns the distortion model described by the document.
func (doc *Document) Model() (transform.DistortionModel, error) {
	return transform.NewDistortionModel(doc.Distortion)
}

// IsFisheye reports whether the document uses the fisheye lens model.
func (doc *Document) IsFisheye() bool {
	return doc.Distortion.IsFisheye()
}

// Clone returns a deep copy.
func (doc *Document) Clone() *Document {
	if doc == nil {
		return nil
	}
	cp := *doc
	cp.Extra = copyMap(doc.Extra)
	if doc.Frames != nil {
		cp.Frames = make([]Frame, len(doc.Frames))
		for i, f := range doc.Frames {
			cp.Frames[i] = f.Clone()
		}
	}
	return &cp
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	cp := f
	cp.Extra = copyMap(f.Extra)
	if f.Transform != nil {
		cp.Transform = make([][]float64, len(f.Transform))
		for i, row := range f.Transform {
			cp.Transform[i] = append([]float64(nil), row...)
		}
	}
	return cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	default:
		return v
	}
}

// Name returns the base name of the frame's image with any directory stripped.
func (f Frame) Name() string {
	return path.Base(utils.NormalizeSlashPath(f.FilePath))
}

func (f Frame) toMap() map[string]any {
	m := copyMap(f.Extra)
	if m == nil {
		m = map[string]any{}
	}
	m["file_path"] = f.FilePath
	if f.Transform != nil {
		m["transform_matrix"] = f.Transform
	}
	return m
}

// Encode returns the document as JSON indented by four spaces. Passthrough fields are written
// back next to the known ones.
func (doc *Document) Encode() ([]byte, error) {
	m := copyMap(doc.Extra)
	if m == nil {
		m = map[string]any{}
	}
	intr := doc.Intrinsics
	m["w"] = intr.Width
	m["h"] = intr.Height
	m["fl_x"] = intr.Fx
	m["fl_y"] = intr.Fy
	m["cx"] = intr.Ppx
	m["cy"] = intr.Ppy
	c := doc.Distortion
	m["k1"], m["k2"], m["k3"], m["k4"] = c.K1, c.K2, c.K3, c.K4
	m["p1"], m["p2"] = c.P1, c.P2
	m["is_fisheye"] = c.IsFisheye()
	if doc.CameraModel != "" {
		m["camera_model"] = doc.CameraModel
	}
	frames := make([]map[string]any, 0, len(doc.Frames))
	for _, f := range doc.Frames {
		frames = append(frames, f.toMap())
	}
	m["frames"] = frames

	out, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode calibration document")
	}
	return append(out, '\n'), nil
}

// WriteFile encodes the document to path.
func (doc *Document) WriteFile(path string) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	//nolint:gosec
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write calibration document %q", path)
	}
	return nil
}

// String summarizes the camera for log lines.
func (doc *Document) String() string {
	intr := doc.Intrinsics
	return fmt.Sprintf("%dx%d fx=%.3f fy=%.3f cx=%.3f cy=%.3f %s frames=%d",
		intr.Width, intr.Height, intr.Fx, intr.Fy, intr.Ppx, intr.Ppy, doc.Distortion.Model, len(doc.Frames))
}
