package geo

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"
)

// dimensionField is the element MicMac writes raster dimensions under in the
// DSM XML sidecar: two whitespace-separated integers, width then height.
const dimensionField = "NombrePixels"

// RasterDimensions is the pixel size of a raster.
type RasterDimensions struct {
	Width  int
	Height int
}

// dsmSidecar matches only the pieces of the MicMac sidecar we need. The
// element is optional at the schema level so its absence can be reported as a
// missing field rather than a decode failure.
type dsmSidecar struct {
	NombrePixels *string `xml:"NombrePixels"`
}

// ParseDimensions reads raster dimensions from a MicMac DSM sidecar.
func ParseDimensions(r io.Reader, source string) (RasterDimensions, error) {
	var doc dsmSidecar
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return RasterDimensions{}, &FormatError{Source: source, Reason: "invalid XML: " + err.Error()}
	}
	if doc.NombrePixels == nil {
		return RasterDimensions{}, &MissingFieldError{Source: source, Field: dimensionField}
	}

	tokens := strings.Fields(*doc.NombrePixels)
	if len(tokens) != 2 {
		return RasterDimensions{}, &FormatError{
			Source: source,
			Reason: dimensionField + " must hold 2 integers, got " + strconv.Itoa(len(tokens)) + " tokens",
		}
	}

	width, err := strconv.Atoi(tokens[0])
	if err != nil {
		return RasterDimensions{}, &ParseError{Source: source, Field: "width", Value: tokens[0], Err: err}
	}
	height, err := strconv.Atoi(tokens[1])
	if err != nil {
		return RasterDimensions{}, &ParseError{Source: source, Field: "height", Value: tokens[1], Err: err}
	}

	return RasterDimensions{Width: width, Height: height}, nil
}

// ReadDimensions parses the sidecar at path.
func ReadDimensions(path string) (RasterDimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return RasterDimensions{}, err
	}
	defer f.Close()
	return ParseDimensions(f, path)
}
