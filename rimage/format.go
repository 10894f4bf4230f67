package rimage

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Family restricts which image containers a run reads.
type Family int

const (
	// FamilyAll accepts every supported extension.
	FamilyAll Family = iota
	// FamilyLDR accepts 8-bit containers only.
	FamilyLDR
	// FamilyFloat accepts floating point containers only.
	FamilyFloat
)

// ErrUnsupportedFormat is returned when no codec handles a file extension.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var (
	ldrExtensions   = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".gif", ".ppm", ".qoi", ".webp"}
	floatExtensions = []string{".exr", ".pfm", ".hdr"}
	// Containers that can be decoded but have no encoder here.
	decodeOnlyExtensions = []string{".webp"}
)

func (f Family) String() string {
	switch f {
	case FamilyLDR:
		return "ldr"
	case FamilyFloat:
		return "float"
	default:
		return "all"
	}
}

// ParseFamily parses "all", "ldr" or "float".
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return FamilyAll, nil
	case "ldr", "8bit":
		return FamilyLDR, nil
	case "float", "hdr", "exr":
		return FamilyFloat, nil
	}
	return FamilyAll, errors.Errorf("unknown image family %q", s)
}

// Extensions lists the lowercase extensions belonging to the family.
func (f Family) Extensions() []string {
	switch f {
	case FamilyLDR:
		return slices.Clone(ldrExtensions)
	case FamilyFloat:
		return slices.Clone(floatExtensions)
	default:
		return append(slices.Clone(ldrExtensions), floatExtensions...)
	}
}

// Accepts reports whether the file name has an extension of the family.
func (f Family) Accepts(name string) bool {
	return slices.Contains(f.Extensions(), strings.ToLower(filepath.Ext(name)))
}

// IsFloatExtension reports whether the file name refers to a floating point container.
func IsFloatExtension(name string) bool {
	return slices.Contains(floatExtensions, strings.ToLower(filepath.Ext(name)))
}

func canEncode(ext string) bool {
	ext = strings.ToLower(ext)
	if slices.Contains(decodeOnlyExtensions, ext) {
		return false
	}
	return slices.Contains(ldrExtensions, ext) || slices.Contains(floatExtensions, ext)
}

// EncodedPath returns the path WriteImageToFile writes for the requested path: unchanged when
// an encoder exists for its extension, else with the extension replaced by ".png".
func EncodedPath(path string) string {
	if canEncode(filepath.Ext(path)) {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}
