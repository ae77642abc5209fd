package mm3d

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"stereopipe/internal/fsutil"
)

// TiePoint is one correspondence between the two scene images, in pixel
// coordinates of each image.
type TiePoint struct {
	X1, Y1 float64
	X2, Y2 float64
}

// HomolPath returns the conventional tie-point file location for an ordered
// image pair.
func HomolPath(img1, img2 string) string {
	return filepath.Join("Homol", "Pastis"+img2, img1+".txt")
}

// FindHomolFile locates the Tapioca tie-point export for a pair, trying both
// pair orderings. Returns empty when neither exists; tie points feed
// diagnostics only, so the caller treats that as an optional input.
func FindHomolFile(img1, img2 string) string {
	return fsutil.FirstExisting(HomolPath(img1, img2), HomolPath(img2, img1))
}

// LoadTiePoints parses a Homol text export. Blank lines, comments and lines
// with fewer than four fields are skipped; extra columns beyond the four
// coordinates are ignored.
func LoadTiePoints(path string) ([]TiePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []TiePoint
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		var coords [4]float64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: bad coordinate %q: %w", path, lineNo, fields[i], err)
			}
			coords[i] = v
		}
		points = append(points, TiePoint{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return points, nil
}
