package geo

// GeoBounds is the affine bounding box of a raster: upper-left and
// lower-right corner coordinates in the transform's ground units.
type GeoBounds struct {
	UpperLeftX  float64
	UpperLeftY  float64
	LowerRightX float64
	LowerRightY float64
}

// ComputeBounds derives the corner coordinates from a world-file transform
// and the raster's pixel dimensions. Pure IEEE double arithmetic, no rounding
// or clamping. The sign of PixelSizeY is preserved: with the usual negative
// value LowerRightY comes out numerically below UpperLeftY, and the corners
// are deliberately not reordered because downstream tooling consumes exactly
// this convention.
func ComputeBounds(t AffineTransform, d RasterDimensions) GeoBounds {
	return GeoBounds{
		UpperLeftX:  t.UpperLeftX,
		UpperLeftY:  t.UpperLeftY,
		LowerRightX: t.UpperLeftX + float64(d.Width)*t.PixelSizeX,
		LowerRightY: t.UpperLeftY + float64(d.Height)*t.PixelSizeY,
	}
}
