package geo

import (
	"context"
	"log/slog"
	"strconv"

	"stereopipe/internal/extool"
	"stereopipe/internal/fsutil"
)

// Georeferencer tags rasters with an affine extent and spatial reference by
// invoking gdal_translate. The pixel payload is copied unchanged; this is a
// metadata-tagging operation, not a reprojection.
type Georeferencer struct {
	runner extool.Runner
	binary string
	log    *slog.Logger
}

// NewGeoreferencer creates a Georeferencer using binary (normally
// "gdal_translate") through runner.
func NewGeoreferencer(runner extool.Runner, binary string, logger *slog.Logger) *Georeferencer {
	if binary == "" {
		binary = "gdal_translate"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Georeferencer{runner: runner, binary: binary, log: logger}
}

// Apply writes a copy of srcPath to dstPath with bounds and srid embedded as
// georeferencing metadata. The source must already exist; nothing is invoked
// otherwise. On a non-zero exit the returned error carries the tool's stderr
// and any partial file at dstPath must not be treated as valid output.
func (g *Georeferencer) Apply(ctx context.Context, srcPath, dstPath string, bounds GeoBounds, srid string) error {
	if !fsutil.Exists(srcPath) {
		return &fsutil.NotFoundError{Path: srcPath}
	}

	args := []string{
		"-of", "GTiff",
		"-a_srs", srid,
		"-a_ullr",
		formatCoord(bounds.UpperLeftX),
		formatCoord(bounds.UpperLeftY),
		formatCoord(bounds.LowerRightX),
		formatCoord(bounds.LowerRightY),
		srcPath,
		dstPath,
	}

	g.log.Info("tagging raster with spatial reference",
		"source", srcPath,
		"target", dstPath,
		"srid", srid,
		"upper_left_x", bounds.UpperLeftX,
		"upper_left_y", bounds.UpperLeftY,
		"lower_right_x", bounds.LowerRightX,
		"lower_right_y", bounds.LowerRightY,
	)

	_, err := g.runner.Run(ctx, extool.Command{Name: g.binary, Args: args})
	return err
}

// GeoreferenceDSM derives bounds from the world file at tfwPath and the
// dimension sidecar at xmlPath, then tags the raster at dsmPath into outPath.
// The returned bounds are only meaningful when err is nil.
func (g *Georeferencer) GeoreferenceDSM(ctx context.Context, tfwPath, xmlPath, dsmPath, outPath, srid string) (GeoBounds, error) {
	transform, err := ReadWorldFile(tfwPath)
	if err != nil {
		return GeoBounds{}, err
	}
	dims, err := ReadDimensions(xmlPath)
	if err != nil {
		return GeoBounds{}, err
	}

	bounds := ComputeBounds(transform, dims)
	g.log.Debug("derived affine bounds",
		"width", dims.Width,
		"height", dims.Height,
		"pixel_size_x", transform.PixelSizeX,
		"pixel_size_y", transform.PixelSizeY,
	)

	if err := g.Apply(ctx, dsmPath, outPath, bounds, srid); err != nil {
		return GeoBounds{}, err
	}
	return bounds, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
