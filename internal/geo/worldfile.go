// Package geo derives georeferencing metadata for pipeline rasters: it parses
// world files and dimension sidecars, computes affine corner bounds, and tags
// rasters with a spatial reference via gdal_translate.
package geo

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// AffineTransform holds the six world-file coefficients in file order.
// PixelSizeY is conventionally negative for north-up rasters; it is carried
// through as written.
type AffineTransform struct {
	PixelSizeX float64 // ground units per pixel, x direction
	RotationY  float64
	RotationX  float64
	PixelSizeY float64 // ground units per pixel, y direction
	UpperLeftX float64
	UpperLeftY float64
}

// worldFileFields names the coefficients in the order the file stores them.
var worldFileFields = [6]string{
	"pixel_size_x",
	"rotation_y",
	"rotation_x",
	"pixel_size_y",
	"upper_left_x",
	"upper_left_y",
}

// ParseWorldFile reads a 6-line affine world file from r. Each line is
// trimmed and parsed as a float64; the coefficients are not validated beyond
// numeric parseability (a zero pixel size parses and propagates).
func ParseWorldFile(r io.Reader, source string) (AffineTransform, error) {
	var vals [6]float64
	scanner := bufio.NewScanner(r)

	for i := 0; i < 6; i++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return AffineTransform{}, err
			}
			return AffineTransform{}, &FormatError{
				Source: source,
				Reason: "expected 6 lines, got " + strconv.Itoa(i),
			}
		}
		text := strings.TrimSpace(scanner.Text())
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return AffineTransform{}, &ParseError{
				Source: source,
				Field:  worldFileFields[i],
				Value:  text,
				Err:    err,
			}
		}
		vals[i] = v
	}

	return AffineTransform{
		PixelSizeX: vals[0],
		RotationY:  vals[1],
		RotationX:  vals[2],
		PixelSizeY: vals[3],
		UpperLeftX: vals[4],
		UpperLeftY: vals[5],
	}, nil
}

// ReadWorldFile parses the world file at path.
func ReadWorldFile(path string) (AffineTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return AffineTransform{}, err
	}
	defer f.Close()
	return ParseWorldFile(f, path)
}
