package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
	".dng":  {},
	".nef":  {},
	".cr2":  {},
	".cr3":  {},
	".arw":  {},
	".rw2":  {},
	".orf":  {},
	".raf":  {},
}

// uploadExts are the types accepted over HTTP.
var uploadExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// Result groups for generate artifacts.
const (
	GroupCorrespondences = "sift_correspondences"
	GroupInliersOutliers = "inliers_outliers"
	GroupPanoramas       = "panoramas"
)

// ErrUnsafePath is returned when a requested name escapes its root.
var ErrUnsafePath = errors.New("path escapes root directory")

// ListImages returns the image files directly inside dir, sorted by name.
// Subdirectories such as results/ are skipped.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// IsImageFile checks if a file is any decodable image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// AllowedUpload reports whether name may be accepted by the upload endpoint.
func AllowedUpload(name string) bool {
	if !strings.Contains(name, ".") {
		return false
	}
	_, ok := uploadExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SanitizeFilename reduces an uploaded name to a safe base name made of
// letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

// NumericStem parses the file name without extension as an integer.
func NumericStem(path string) (int, bool) {
	base := filepath.Base(path)
	n, err := strconv.Atoi(strings.TrimSuffix(base, filepath.Ext(base)))
	return n, err == nil
}

// SortNumeric orders paths by numeric stem (1.jpg, 2.jpg, 10.jpg). Names
// without a numeric stem follow in lexical order.
func SortNumeric(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, aok := NumericStem(paths[i])
		b, bok := NumericStem(paths[j])
		switch {
		case aok && bok:
			if a != b {
				return a < b
			}
			return paths[i] < paths[j]
		case aok != bok:
			return aok
		default:
			return filepath.Base(paths[i]) < filepath.Base(paths[j])
		}
	})
}

// RequireNumericStems fails unless every path has a numeric stem.
func RequireNumericStems(paths []string) error {
	for _, p := range paths {
		if _, ok := NumericStem(p); !ok {
			return fmt.Errorf("%s: file name must be a number to define the stitch order", filepath.Base(p))
		}
	}
	return nil
}

// GroupResults sorts generate artifacts into their result groups. Names are
// ordered by their trailing step number.
func GroupResults(names []string) map[string][]string {
	groups := map[string][]string{
		GroupCorrespondences: {},
		GroupInliersOutliers: {},
		GroupPanoramas:       {},
	}
	for _, n := range names {
		base := filepath.Base(n)
		switch {
		case strings.Contains(base, "sift_correspondence"):
			groups[GroupCorrespondences] = append(groups[GroupCorrespondences], base)
		case strings.Contains(base, "inliers") || strings.Contains(base, "outliers"):
			groups[GroupInliersOutliers] = append(groups[GroupInliersOutliers], base)
		case strings.Contains(base, "panorama"):
			groups[GroupPanoramas] = append(groups[GroupPanoramas], base)
		}
	}
	for _, files := range groups {
		sort.SliceStable(files, func(i, j int) bool {
			a, b := stepSuffix(files[i]), stepSuffix(files[j])
			if a != b {
				return a < b
			}
			return files[i] < files[j]
		})
	}
	return groups
}

func stepSuffix(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return -1
	}
	return n
}

// SafeJoin joins name under root and rejects results outside root.
func SafeJoin(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", ErrUnsafePath
	}
	p := filepath.Join(root, name)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return p, nil
}

// ClearDir removes everything inside dir and leaves dir itself in place.
func ClearDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// ListFiles returns the regular files directly inside dir. A missing
// directory yields an empty list.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
