package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var sceneExts = map[string]struct{}{
	".tif":  {},
	".tiff": {},
}

// NotFoundError reports a file that was expected to exist before an operation
// could proceed.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("required file not found: %s", e.Path)
}

// FindSceneImages returns all TIF images directly inside dir, sorted by name
// for deterministic stereo ordering. Subdirectories are not descended into:
// the MicMac working layout nests its own output trees under the input
// directory and those must not be picked up as scene imagery.
func FindSceneImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, ok := sceneExts[ext]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsSceneImage checks whether path looks like scene imagery.
func IsSceneImage(path string) bool {
	_, ok := sceneExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FirstExisting returns the first path that exists, or empty.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if Exists(p) {
			return p
		}
	}
	return ""
}

// RequireFiles verifies every path exists, returning a *NotFoundError naming
// the first missing one.
func RequireFiles(paths ...string) error {
	for _, p := range paths {
		if !Exists(p) {
			return &NotFoundError{Path: p}
		}
	}
	return nil
}
