package calibration

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

type schemaFrame struct {
	FilePath        string      `json:"file_path" jsonschema:"description=image path relative to the document"`
	TransformMatrix [][]float64 `json:"transform_matrix,omitempty" jsonschema:"description=4x4 camera-to-world matrix,minItems=4,maxItems=4"`
}

type schemaDocument struct {
	W           int           `json:"w" jsonschema:"description=image width in pixels,minimum=1"`
	H           int           `json:"h" jsonschema:"description=image height in pixels,minimum=1"`
	FlX         float64       `json:"fl_x" jsonschema:"description=horizontal focal length in pixels"`
	FlY         float64       `json:"fl_y,omitempty" jsonschema:"description=vertical focal length in pixels (defaults to fl_x)"`
	Cx          float64       `json:"cx,omitempty" jsonschema:"description=principal point x (defaults to w/2)"`
	Cy          float64       `json:"cy,omitempty" jsonschema:"description=principal point y (defaults to h/2)"`
	K1          float64       `json:"k1,omitempty"`
	K2          float64       `json:"k2,omitempty"`
	K3          float64       `json:"k3,omitempty"`
	K4          float64       `json:"k4,omitempty"`
	P1          float64       `json:"p1,omitempty"`
	P2          float64       `json:"p2,omitempty"`
	IsFisheye   bool          `json:"is_fisheye,omitempty"`
	CameraModel string        `json:"camera_model,omitempty"`
	Frames      []schemaFrame `json:"frames,omitempty"`
}

// JSONSchema returns the JSON schema of a calibration document. Keys it does not list are allowed
// and passed through.
func JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{AllowAdditionalProperties: true}
	return r.Reflect(&schemaDocument{})
}

// JSONSchemaBytes returns JSONSchema indented for printing.
func JSONSchemaBytes() ([]byte, error) {
	return json.MarshalIndent(JSONSchema(), "", "    ")
}
