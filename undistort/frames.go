package undistort

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/autotracker/lenswarp/calibration"
	"github.com/autotracker/lenswarp/rimage"
	"github.com/autotracker/lenswarp/utils"
)

// job is one image of a run. frame is the record carried into the output document.
type job struct {
	frame calibration.Frame
	// path is the resolved input file, empty when the frame path could not be resolved.
	path       string
	resolveErr error
	// conflict is set when an earlier job already writes the same output file.
	conflict error
	name     string
}

var numberToken = regexp.MustCompile(`\d+`)

// FrameNumber returns the last run of digits in the base name of p, ignoring the extension.
func FrameNumber(p string) (int64, bool) {
	base := filepath.Base(utils.NormalizeSlashPath(p))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tokens := numberToken.FindAllString(base, -1)
	if len(tokens) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(tokens[len(tokens)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortByFrameNumber orders names by their frame number. Numbered names come first; ties and
// unnumbered names are ordered by name.
func SortByFrameNumber(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ni, oki := FrameNumber(names[i])
		nj, okj := FrameNumber(names[j])
		if oki != okj {
			return oki
		}
		if oki && ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}

// documentJobs resolves every frame of doc under root, keeping document order. Frames outside
// the family are dropped.
func documentJobs(doc *calibration.Document, root string, family rimage.Family) []job {
	frames := lo.Filter(doc.Frames, func(f calibration.Frame, _ int) bool {
		return family.Accepts(f.Name())
	})
	jobs := make([]job, 0, len(frames))
	for _, f := range frames {
		rel := utils.NormalizeSlashPath(f.FilePath)
		j := job{frame: f, name: f.Name()}
		if filepath.IsAbs(rel) {
			j.path = filepath.FromSlash(rel)
		} else {
			j.path, j.resolveErr = utils.SafeJoinDir(root, filepath.FromSlash(rel))
			if j.resolveErr != nil {
				j.path = ""
			}
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// scanJobs lists the images of the family in dir, sorted by frame number. A file whose name
// matches a document frame carries that frame's record.
func scanJobs(doc *calibration.Document, dir string, family rimage.Family) ([]job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot scan image directory %q", dir)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.Type().IsRegular() && family.Accepts(e.Name())
	})
	SortByFrameNumber(names)

	byName := make(map[string]calibration.Frame, len(doc.Frames))
	for _, f := range doc.Frames {
		if _, ok := byName[f.Name()]; !ok {
			byName[f.Name()] = f
		}
	}

	jobs := make([]job, 0, len(names))
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			f = calibration.Frame{FilePath: name}
		}
		jobs = append(jobs, job{frame: f, path: filepath.Join(dir, name), name: name})
	}
	return jobs, nil
}

// markOutputConflicts flags every job whose output file name is already claimed by an earlier
// job, so two workers never write the same file.
func markOutputConflicts(jobs []job) int {
	claimed := make(map[string]string, len(jobs))
	conflicts := 0
	for i := range jobs {
		if jobs[i].resolveErr != nil {
			continue
		}
		out := rimage.EncodedPath(jobs[i].name)
		if first, ok := claimed[out]; ok {
			jobs[i].conflict = errors.Errorf("%q also writes %q", first, out)
			conflicts++
			continue
		}
		claimed[out] = jobs[i].frame.FilePath
	}
	return conflicts
}
