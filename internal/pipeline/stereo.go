package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"stereopipe/internal/config"
	"stereopipe/internal/extool"
	"stereopipe/internal/fsutil"
	"stereopipe/internal/geo"
	"stereopipe/internal/mm3d"
	"stereopipe/internal/quicklook"
	"stereopipe/internal/storage"
)

// Output file names inside the geo output directory.
const (
	geoDSMName        = "DSM.tif"
	shadeQuicklook    = "shade_quicklook.png"
	orthoQuicklook    = "ortho_quicklook.png"
	quicklookMaxWidth = 1600
)

// Orchestrator composes the full stereo run: the mm3d stages in order, then
// georeferencing of the resulting DSM.
type Orchestrator struct {
	cfg    *config.Config
	runner extool.Runner
	exec   *Runner
	log    *slog.Logger
	store  *storage.Store
}

// NewOrchestrator wires an Orchestrator. store may be nil.
func NewOrchestrator(cfg *config.Config, runner extool.Runner, logger *slog.Logger, store *storage.Store) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		runner: runner,
		exec:   NewRunner(logger, store),
		log:    logger,
		store:  store,
	}
}

// Events exposes the stage event feed for the serve surface.
func (o *Orchestrator) Events() *Runner { return o.exec }

// Run processes the stereo pair in inputDir end to end. It switches into
// inputDir for the duration of the run (MicMac resolves its conventional
// layout relative to the working directory) and restores the previous
// directory on every exit path.
func (o *Orchestrator) Run(ctx context.Context, inputDir string) error {
	fi, err := os.Stat(inputDir)
	if err != nil {
		return &fsutil.NotFoundError{Path: inputDir}
	}
	if !fi.IsDir() {
		return fmt.Errorf("input path is not a directory: %s", inputDir)
	}

	images, err := fsutil.FindSceneImages(inputDir)
	if err != nil {
		return err
	}
	if len(images) < 2 {
		return fmt.Errorf("at least 2 TIF images required in %s, found %d", inputDir, len(images))
	}
	o.log.Info("found scene images", "dir", inputDir, "count", len(images))
	for _, img := range images {
		o.log.Info("scene image", "file", filepath.Base(img))
	}

	geoDir := filepath.Join(inputDir, o.cfg.Paths.GeoOutputDir)
	if err := os.MkdirAll(geoDir, 0755); err != nil {
		return err
	}

	info := RunInfo{
		ID:       newRunID(),
		InputDir: inputDir,
		SRID:     o.cfg.Georeference.SRID,
	}

	toolchain := mm3d.NewToolchain(o.runner, o.cfg.Tools.MM3D, o.cfg.Georeference.ChSysFile, mm3d.MatchingParams{
		SizeWindow:     o.cfg.Matching.SizeWindow,
		Regularization: o.cfg.Matching.Regularization,
		MinVisibility:  o.cfg.Matching.MinVisibility,
		DoOrtho:        o.cfg.Matching.DoOrtho,
	}, o.log)
	georef := geo.NewGeoreferencer(o.runner, o.cfg.Tools.GDALTranslate, o.log)
	o.log.Info("starting stereo run", "run_id", info.ID, "toolchain", toolchain.Describe(), "srid", info.SRID)

	img1 := filepath.Base(images[0])
	img2 := filepath.Base(images[1])

	// Stage paths below are relative to inputDir; the whole sequence runs
	// chdir'd into it.
	stages := []Stage{
		{Name: "tapioca", Run: func() (map[string]any, error) {
			return nil, toolchain.Tapioca(ctx)
		}},
		{Name: "tie-points", Run: func() (map[string]any, error) {
			return o.summarizeTiePoints(info.ID, img1, img2)
		}},
		{Name: "convert2genbundle", Run: func() (map[string]any, error) {
			return nil, toolchain.ConvertToGenBundle(ctx)
		}},
		{Name: "campari", Run: func() (map[string]any, error) {
			return nil, toolchain.Campari(ctx)
		}},
		{Name: "malt", Run: func() (map[string]any, error) {
			return map[string]any{"dsm": mm3d.DSMRaster()}, toolchain.Malt(ctx)
		}},
		{Name: "grshade", Run: func() (map[string]any, error) {
			if err := toolchain.GrShade(ctx); err != nil {
				return nil, err
			}
			return o.renderQuicklook(mm3d.DSMShade(), filepath.Join(o.cfg.Paths.GeoOutputDir, shadeQuicklook)), nil
		}},
		{Name: "tawny", Run: func() (map[string]any, error) {
			if err := toolchain.Tawny(ctx); err != nil {
				return nil, err
			}
			return o.renderQuicklook(mm3d.Orthomosaic(), filepath.Join(o.cfg.Paths.GeoOutputDir, orthoQuicklook)), nil
		}},
		{Name: "georeference", Run: func() (map[string]any, error) {
			return o.georeferenceDSM(ctx, georef, info)
		}},
	}

	return InDir(inputDir, func() error {
		return o.exec.Execute(info, stages)
	})
}

// summarizeTiePoints loads the Tapioca export for the pair and records its
// size. A missing homol file is an optional diagnostic input, not a pipeline
// failure; malformed contents still fail the run.
func (o *Orchestrator) summarizeTiePoints(runID, img1, img2 string) (map[string]any, error) {
	homol := mm3d.FindHomolFile(img1, img2)
	if homol == "" {
		o.log.Warn("no homol file found for stereo pair", "img1", img1, "img2", img2)
		return map[string]any{"tie_points": 0}, nil
	}
	points, err := mm3d.LoadTiePoints(homol)
	if err != nil {
		return nil, err
	}
	o.log.Info("loaded tie points", "file", homol, "count", len(points))
	if o.store != nil {
		_ = o.store.RecordTiePointStats(runID, homol, len(points))
	}
	return map[string]any{"homol_file": homol, "tie_points": len(points)}, nil
}

// renderQuicklook produces a PNG preview of src. Quicklooks replace the
// original interactive display and are best-effort: a missing source or a
// conversion failure is logged and skipped.
func (o *Orchestrator) renderQuicklook(src, dst string) map[string]any {
	if !fsutil.Exists(src) {
		o.log.Warn("quicklook source missing, skipping", "source", src)
		return nil
	}
	if err := quicklook.Generate(src, dst, quicklookMaxWidth); err != nil {
		o.log.Warn("quicklook generation failed", "source", src, "error", err)
		return nil
	}
	return map[string]any{"quicklook": dst}
}

func (o *Orchestrator) georeferenceDSM(ctx context.Context, georef *geo.Georeferencer, info RunInfo) (map[string]any, error) {
	if err := fsutil.RequireFiles(mm3d.DSMWorldFile(), mm3d.DSMSidecar(), mm3d.DSMRaster()); err != nil {
		return nil, err
	}

	outPath := filepath.Join(o.cfg.Paths.GeoOutputDir, geoDSMName)
	bounds, err := georef.GeoreferenceDSM(ctx,
		mm3d.DSMWorldFile(), mm3d.DSMSidecar(), mm3d.DSMRaster(),
		outPath, info.SRID)
	if err != nil {
		return nil, err
	}

	if o.store != nil {
		dims, dimErr := geo.ReadDimensions(mm3d.DSMSidecar())
		if dimErr == nil {
			_ = o.store.RecordBounds(storage.BoundsRecord{
				RunID:       info.ID,
				UpperLeftX:  bounds.UpperLeftX,
				UpperLeftY:  bounds.UpperLeftY,
				LowerRightX: bounds.LowerRightX,
				LowerRightY: bounds.LowerRightY,
				Width:       dims.Width,
				Height:      dims.Height,
			})
		}
	}

	o.log.Info("georeferenced DSM written", "output", outPath, "srid", info.SRID)
	return map[string]any{
		"output":        outPath,
		"upper_left_x":  bounds.UpperLeftX,
		"upper_left_y":  bounds.UpperLeftY,
		"lower_right_x": bounds.LowerRightX,
		"lower_right_y": bounds.LowerRightY,
	}, nil
}

func newRunID() string {
	return fmt.Sprintf("run-%s-%04d", time.Now().Format("20060102-150405"), rand.Intn(10000))
}
