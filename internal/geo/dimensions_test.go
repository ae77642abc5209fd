package geo

import (
	"errors"
	"strings"
	"testing"
)

const sidecarXML = `<?xml version="1.0"?>
<FileOriMnt>
  <NameFileMnt>Z_Num8_DeZoom1_STD-MALT.tif</NameFileMnt>
  <NombrePixels>1000 800</NombrePixels>
  <OriginePlani>500000 4000000</OriginePlani>
</FileOriMnt>`

func TestParseDimensions(t *testing.T) {
	dims, err := ParseDimensions(strings.NewReader(sidecarXML), "test.xml")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if dims.Width != 1000 || dims.Height != 800 {
		t.Fatalf("unexpected dimensions: %+v", dims)
	}
}

func TestParseDimensionsMissingField(t *testing.T) {
	xml := `<FileOriMnt><NameFileMnt>dsm.tif</NameFileMnt></FileOriMnt>`
	_, err := ParseDimensions(strings.NewReader(xml), "nofield.xml")
	var missingErr *MissingFieldError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected *MissingFieldError, got %T: %v", err, err)
	}
	if missingErr.Field != "NombrePixels" {
		t.Fatalf("unexpected field: %s", missingErr.Field)
	}
}

func TestParseDimensionsWrongTokenCount(t *testing.T) {
	xml := `<FileOriMnt><NombrePixels>1000</NombrePixels></FileOriMnt>`
	_, err := ParseDimensions(strings.NewReader(xml), "one.xml")
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected *FormatError, got %T: %v", err, err)
	}

	xml = `<FileOriMnt><NombrePixels>1000 800 3</NombrePixels></FileOriMnt>`
	_, err = ParseDimensions(strings.NewReader(xml), "three.xml")
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected *FormatError for 3 tokens, got %T: %v", err, err)
	}
}

func TestParseDimensionsNonInteger(t *testing.T) {
	xml := `<FileOriMnt><NombrePixels>1000 eight-hundred</NombrePixels></FileOriMnt>`
	_, err := ParseDimensions(strings.NewReader(xml), "bad.xml")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if parseErr.Field != "height" {
		t.Fatalf("expected height field, got %s", parseErr.Field)
	}
}

func TestParseDimensionsInvalidXML(t *testing.T) {
	_, err := ParseDimensions(strings.NewReader("<unclosed"), "broken.xml")
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected *FormatError, got %T: %v", err, err)
	}
}
