// Package mm3d wraps the MicMac photogrammetry toolchain. Every stage is a
// black-box mm3d invocation over the conventional working-directory layout;
// this package only sequences arguments, checks the expected output files,
// and reads the small text artifacts (tie points) MicMac leaves behind.
package mm3d

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"stereopipe/internal/extool"
	"stereopipe/internal/fsutil"
)

// Orientation names used across the bundle stages.
const (
	OrientationRPC      = "RPC-d0"
	OrientationAdjusted = "RPC-d0-adj"
)

// Conventional output paths, relative to the working directory.
const (
	dsmBase = "MEC-Malt/Z_Num8_DeZoom1_STD-MALT"

	tifPattern    = ".*TIF"
	tapiocaRegex  = ".*.TIF"
	bundleRegex   = "(.*).TIF"
	bundleSidecar = "$1.XML"
)

// DSMRaster returns the dense-matching DSM raster path.
func DSMRaster() string { return dsmBase + ".tif" }

// DSMWorldFile returns the DSM's affine world file path.
func DSMWorldFile() string { return dsmBase + ".tfw" }

// DSMSidecar returns the DSM's XML dimension sidecar path.
func DSMSidecar() string { return dsmBase + ".xml" }

// DSMShade returns the shaded-relief raster GrShade writes.
func DSMShade() string { return dsmBase + "Shade.tif" }

// DSMMask returns the validity mask Malt writes alongside the DSM.
func DSMMask() string { return "MEC-Malt/Masq_STD-MALT_DeZoom1.tif" }

// Orthomosaic returns the mosaic raster Tawny writes.
func Orthomosaic() string { return "Ortho-MEC-Malt/Orthophotomosaic.tif" }

// MatchingParams tune the Malt dense-matching stage.
type MatchingParams struct {
	SizeWindow     int     // correlation window (SzW)
	Regularization float64 // smoothing term (Regul)
	MinVisibility  int     // minimum visible images per ground point (NbVI)
	DoOrtho        bool    // also rectify per-image orthos for Tawny
}

// DefaultMatchingParams are the settings used for SPOT-style satellite pairs.
func DefaultMatchingParams() MatchingParams {
	return MatchingParams{
		SizeWindow:     2,
		Regularization: 0.2,
		MinVisibility:  2,
		DoOrtho:        true,
	}
}

// Toolchain drives mm3d in a fixed working directory. All stages block until
// the external process exits and fail with the runner's *ExternalToolError on
// a non-zero exit.
type Toolchain struct {
	runner extool.Runner
	binary string
	chSys  string
	params MatchingParams
	log    *slog.Logger
}

// NewToolchain wires a Toolchain around runner. binary defaults to "mm3d" and
// chSys to "WGS84toUTM.xml", the coordinate-system description
// Convert2GenBundle expects next to the imagery.
func NewToolchain(runner extool.Runner, binary, chSys string, params MatchingParams, logger *slog.Logger) *Toolchain {
	if binary == "" {
		binary = "mm3d"
	}
	if chSys == "" {
		chSys = "WGS84toUTM.xml"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolchain{runner: runner, binary: binary, chSys: chSys, params: params, log: logger}
}

func (t *Toolchain) run(ctx context.Context, stage string, args ...string) error {
	t.log.Info("running mm3d stage", "stage", stage)
	args = append(args, "@ExitOnBrkp")
	_, err := t.runner.Run(ctx, extool.Command{Name: t.binary, Args: args})
	return err
}

// Tapioca extracts tie points between all image pairs at full resolution,
// exporting them as text under Homol/.
func (t *Toolchain) Tapioca(ctx context.Context) error {
	return t.run(ctx, "Tapioca", "Tapioca", "All", tapiocaRegex, "-1", "ExpTxt=1")
}

// ConvertToGenBundle converts the per-image RPC sidecars into MicMac's
// generic bundle orientation, projected through the chSys description.
func (t *Toolchain) ConvertToGenBundle(ctx context.Context) error {
	return t.run(ctx, "Convert2GenBundle",
		"Convert2GenBundle", bundleRegex, bundleSidecar,
		OrientationRPC, "ChSys="+t.chSys, "Degre=0")
}

// Campari runs the bundle adjustment, refining the RPC orientation into the
// adjusted one the dense matcher consumes.
func (t *Toolchain) Campari(ctx context.Context) error {
	return t.run(ctx, "Campari",
		"Campari", tifPattern, OrientationRPC, OrientationAdjusted, "ExpTxt=1")
}

// Malt generates the DSM (and per-image orthos when configured) via dense
// matching. The DSM raster, world file and dimension sidecar must all exist
// afterwards; a missing one fails the stage with a *fsutil.NotFoundError.
func (t *Toolchain) Malt(ctx context.Context) error {
	doOrtho := "0"
	if t.params.DoOrtho {
		doOrtho = "1"
	}
	err := t.run(ctx, "Malt",
		"Malt", "UrbanMNE", tifPattern, OrientationAdjusted,
		"SzW="+strconv.Itoa(t.params.SizeWindow),
		"Regul="+strconv.FormatFloat(t.params.Regularization, 'f', -1, 64),
		"DoOrtho="+doOrtho,
		"NbVI="+strconv.Itoa(t.params.MinVisibility),
		"EZA=1")
	if err != nil {
		return err
	}
	return fsutil.RequireFiles(DSMRaster(), DSMWorldFile(), DSMSidecar())
}

// GrShade renders a shaded relief of the DSM. The result is only consumed by
// the quicklook step, so no output verification happens here.
func (t *Toolchain) GrShade(ctx context.Context) error {
	return t.run(ctx, "GrShade",
		"GrShade", DSMRaster(), "ModeOmbre=IgnE", "Mask="+DSMMask())
}

// Tawny mosaics the per-image orthos into a single orthophoto.
func (t *Toolchain) Tawny(ctx context.Context) error {
	if err := t.run(ctx, "Tawny", "Tawny", "Ortho-MEC-Malt/"); err != nil {
		return err
	}
	if !fsutil.Exists(Orthomosaic()) {
		return &fsutil.NotFoundError{Path: Orthomosaic()}
	}
	return nil
}

// Describe summarizes the toolchain setup for logs.
func (t *Toolchain) Describe() string {
	return fmt.Sprintf("%s (ChSys=%s SzW=%d Regul=%g NbVI=%d)",
		t.binary, t.chSys, t.params.SizeWindow, t.params.Regularization, t.params.MinVisibility)
}
