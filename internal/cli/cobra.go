package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"stereopipe/internal/config"
	"stereopipe/internal/extool"
	"stereopipe/internal/fsutil"
	"stereopipe/internal/geo"
	"stereopipe/internal/logging"
	"stereopipe/internal/mm3d"
	"stereopipe/internal/pipeline"
	"stereopipe/internal/server"
	"stereopipe/internal/storage"
	"stereopipe/internal/watch"

	"github.com/spf13/cobra"
)

// Root wires CLI commands to the pipeline services.
type Root struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	runner extool.Runner
}

// NewRoot constructs the CLI root. runner defaults to the exec-backed runner
// when nil; tests substitute stubs.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store, runner extool.Runner) *Root {
	if runner == nil {
		runner = extool.NewExecRunner(logger)
	}
	return &Root{cfg: cfg, log: logger, store: store, runner: runner}
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, logger *slog.Logger, store *storage.Store, runner extool.Runner) *cobra.Command {
	root := NewRoot(cfg, logger, store, runner)

	rootCmd := &cobra.Command{
		Use:   "stereopipe",
		Short: "Stereopipe processes satellite stereo pairs into georeferenced DSMs",
		Long: `Stereopipe orchestrates the MicMac (mm3d) photogrammetry toolchain over a
stereo pair of satellite images: tie points, bundle adjustment, dense
matching, orthophoto mosaicking, and georeferencing of the resulting DSM.`,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newGeorefCmd(root))
	rootCmd.AddCommand(newTiePointsCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (r *Root) orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(r.cfg, r.runner, r.log, r.store)
}

func newRunCmd(root *Root) *cobra.Command {
	var srid string

	cmd := &cobra.Command{
		Use:   "run <input_directory>",
		Short: "Run the full stereo pipeline on a directory of TIF images",
		Long: `Process a stereo pair end to end: Tapioca tie points, Convert2GenBundle,
Campari bundle adjustment, Malt DSM generation, GrShade relief, Tawny
orthophoto, and georeferencing of the DSM into <input>/geo/DSM.tif.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if srid != "" {
				root.cfg.Georeference.SRID = srid
			}
			return root.orchestrator().Run(context.Background(), args[0])
		},
	}

	cmd.Flags().StringVar(&srid, "srid", "", "spatial reference for the output DSM (default from config, e.g. EPSG:32638)")

	return cmd
}

func newGeorefCmd(root *Root) *cobra.Command {
	var (
		output string
		srid   string
	)

	cmd := &cobra.Command{
		Use:   "georef <world_file> <xml_sidecar> <raster>",
		Short: "Georeference a raster from its world file and dimension sidecar",
		Long: `Derive the affine bounding box from a 6-line world file and the raster
dimensions in the XML sidecar, then tag the raster with that extent and the
given spatial reference. The pixel payload is copied unchanged.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tfwPath, xmlPath, rasterPath := args[0], args[1], args[2]
			if srid == "" {
				srid = root.cfg.Georeference.SRID
			}
			if output == "" {
				ext := filepath.Ext(rasterPath)
				output = rasterPath[:len(rasterPath)-len(ext)] + "_geo" + ext
			}

			georef := geo.NewGeoreferencer(root.runner, root.cfg.Tools.GDALTranslate, root.log)
			bounds, err := georef.GeoreferenceDSM(context.Background(), tfwPath, xmlPath, rasterPath, output, srid)
			if err != nil {
				return err
			}

			fmt.Printf("Georeferenced raster written to %s\n", output)
			fmt.Printf("  SRID:        %s\n", srid)
			fmt.Printf("  Upper left:  %g, %g\n", bounds.UpperLeftX, bounds.UpperLeftY)
			fmt.Printf("  Lower right: %g, %g\n", bounds.LowerRightX, bounds.LowerRightY)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output raster path (default: <raster>_geo.<ext>)")
	cmd.Flags().StringVar(&srid, "srid", "", "spatial reference identifier (default from config)")

	return cmd
}

func newTiePointsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiepoints <input_directory>",
		Short: "Summarize Tapioca tie points for the stereo pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputDir := args[0]
			images, err := fsutil.FindSceneImages(inputDir)
			if err != nil {
				return err
			}
			if len(images) < 2 {
				return fmt.Errorf("at least 2 TIF images required in %s, found %d", inputDir, len(images))
			}
			img1 := filepath.Base(images[0])
			img2 := filepath.Base(images[1])

			return pipeline.InDir(inputDir, func() error {
				homol := mm3d.FindHomolFile(img1, img2)
				if homol == "" {
					fmt.Printf("No tie-point file found for %s / %s (has Tapioca run?)\n", img1, img2)
					return nil
				}
				points, err := mm3d.LoadTiePoints(homol)
				if err != nil {
					return err
				}
				fmt.Printf("Tie points for %s / %s\n", img1, img2)
				fmt.Printf("  File:  %s\n", homol)
				fmt.Printf("  Count: %d\n", len(points))
				return nil
			})
		},
	}
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Check availability of the external toolchain",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := mm3d.CheckAll(root.cfg.Tools.MM3D, root.cfg.Tools.GDALTranslate)
			for name, st := range status {
				logging.LogToolStatus(root.log, name, st.Available, st.Version, st.Path, st.Error)
				if st.Available {
					fmt.Printf("%-16s available (%s)\n", name, st.Path)
					if st.Version != "" && st.Version != "unknown" {
						fmt.Printf("%-16s %s\n", "", st.Version)
					}
				} else {
					fmt.Printf("%-16s MISSING: %v\n", name, st.Error)
				}
			}
			return nil
		},
	}
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var settle int

	cmd := &cobra.Command{
		Use:   "watch <inbox_directory>",
		Short: "Watch an inbox for arriving stereo scenes and process them",
		Long: `Monitor an inbox directory for scene subdirectories. Once a scene holds at
least two TIF images and has stopped changing for the settle period, the full
pipeline runs on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if settle > 0 {
				root.cfg.Watch.SettleSeconds = settle
			}
			orch := root.orchestrator()
			w := watch.New(args[0],
				time.Duration(root.cfg.Watch.SettleSeconds)*time.Second,
				orch.Run, root.log)
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&settle, "settle", 0, "seconds a scene must stay unchanged before processing (default from config)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		watchDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run status API, optionally with inbox watching",
		Long: `Start an HTTP server exposing run history (/runs), per-run stages
(/runs/{id}/stages), and live stage events (/stream for SSE, /events for
websocket). With --watch, an inbox watcher feeds new scenes into the pipeline
while the server reports their progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				root.cfg.Server.Addr = addr
			}
			ctx := cmd.Context()
			orch := root.orchestrator()

			if watchDir != "" {
				w := watch.New(watchDir,
					time.Duration(root.cfg.Watch.SettleSeconds)*time.Second,
					orch.Run, root.log)
				go func() {
					if err := w.Run(ctx); err != nil && ctx.Err() == nil {
						root.log.Error("inbox watcher stopped", "error", err)
					}
				}()
			}

			srv := server.New(root.cfg.Server.Addr, root.store, orch.Events(), root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (host:port, default from config)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "inbox directory to monitor for new scenes")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Database Path:   %s\n", root.cfg.Paths.DatabasePath)
			fmt.Printf("Geo Output Dir:  %s\n", root.cfg.Paths.GeoOutputDir)
			fmt.Printf("mm3d Binary:     %s\n", root.cfg.Tools.MM3D)
			fmt.Printf("GDAL Binary:     %s\n", root.cfg.Tools.GDALTranslate)
			fmt.Printf("SRID:            %s\n", root.cfg.Georeference.SRID)
			fmt.Printf("ChSys File:      %s\n", root.cfg.Georeference.ChSysFile)
			fmt.Printf("Malt SzW:        %d\n", root.cfg.Matching.SizeWindow)
			fmt.Printf("Malt Regul:      %g\n", root.cfg.Matching.Regularization)
			fmt.Printf("Log Level:       %s\n", root.cfg.Logging.Level)
			fmt.Printf("Log Directory:   %s\n", root.cfg.Logging.LogDir)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("stereopipe v1.0.0")
		},
	}
}
