// Package quicklook renders small PNG previews of pipeline rasters (shaded
// relief, orthophoto mosaic) so results can be inspected without GIS tooling.
package quicklook

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"

	"stereopipe/internal/fsutil"
)

// Generate writes a PNG preview of the raster at srcPath to dstPath, scaled
// down to at most maxWidth pixels wide. The source's value range is stretched
// for display; the preview is purely for human inspection and carries no
// georeferencing.
func Generate(srcPath, dstPath string, maxWidth uint) error {
	if !fsutil.Exists(srcPath) {
		return &fsutil.NotFoundError{Path: srcPath}
	}

	imagick.Initialize()
	defer imagick.Terminate()

	w := imagick.NewMagickWand()
	defer w.Destroy()

	if err := w.ReadImage(srcPath); err != nil {
		return fmt.Errorf("failed to read raster: %w", err)
	}

	// DSM-derived rasters use odd value ranges; stretch for display.
	if err := w.ContrastStretchImage(0.01, 0.99); err != nil {
		return fmt.Errorf("failed to stretch contrast: %w", err)
	}
	if err := w.SetImageDepth(8); err != nil {
		return err
	}

	width := w.GetImageWidth()
	height := w.GetImageHeight()
	if maxWidth > 0 && width > maxWidth {
		scaled := uint(float64(height) * float64(maxWidth) / float64(width))
		if scaled == 0 {
			scaled = 1
		}
		if err := w.ResizeImage(maxWidth, scaled, imagick.FILTER_LANCZOS); err != nil {
			return fmt.Errorf("failed to resize preview: %w", err)
		}
	}

	if err := w.SetImageFormat("png"); err != nil {
		return err
	}
	if err := w.WriteImage(dstPath); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}
