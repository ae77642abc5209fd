package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/stereopipe/config.json"

// Config holds user-editable settings for the pipeline.
type Config struct {
	Logging      Logging      `json:"logging"`
	Paths        Paths        `json:"paths"`
	Tools        Tools        `json:"tools"`
	Matching     Matching     `json:"matching"`
	Georeference Georeference `json:"georeference"`
	Watch        Watch        `json:"watch"`
	Server       Server       `json:"server"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures fixed locations the pipeline reads and writes.
type Paths struct {
	GeoOutputDir string `json:"geo_output_dir"` // created inside the input directory
	DatabasePath string `json:"database_path"`
}

// Tools names the external binaries the pipeline invokes.
type Tools struct {
	MM3D          string `json:"mm3d"`
	GDALTranslate string `json:"gdal_translate"`
}

// Matching tunes the Malt dense-matching stage.
type Matching struct {
	SizeWindow     int     `json:"size_window"`
	Regularization float64 `json:"regularization"`
	MinVisibility  int     `json:"min_visibility"`
	DoOrtho        bool    `json:"do_ortho"`
}

// Georeference configures the spatial reference tagging of the DSM.
type Georeference struct {
	SRID      string `json:"srid"`       // e.g. "EPSG:32638"
	ChSysFile string `json:"chsys_file"` // coordinate system description for Convert2GenBundle
}

// Watch configures inbox monitoring.
type Watch struct {
	SettleSeconds int `json:"settle_seconds"` // quiet period before a scene directory is considered complete
}

// Server configures the status HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("STEREOPIPE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for settings that would make a run fail late.
func (c *Config) Validate() error {
	if c.Georeference.SRID == "" {
		return errors.New("georeference.srid must not be empty")
	}
	if c.Paths.GeoOutputDir == "" {
		return errors.New("paths.geo_output_dir must not be empty")
	}
	if c.Matching.SizeWindow < 1 {
		return fmt.Errorf("matching.size_window must be >= 1, got %d", c.Matching.SizeWindow)
	}
	if c.Matching.MinVisibility < 2 {
		return fmt.Errorf("matching.min_visibility must be >= 2, got %d", c.Matching.MinVisibility)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			GeoOutputDir: "geo",
			DatabasePath: filepath.Join(os.TempDir(), "stereopipe.db"),
		},
		Tools: Tools{
			MM3D:          "mm3d",
			GDALTranslate: "gdal_translate",
		},
		Matching: Matching{
			SizeWindow:     2,
			Regularization: 0.2,
			MinVisibility:  2,
			DoOrtho:        true,
		},
		Georeference: Georeference{
			SRID:      "EPSG:32638",
			ChSysFile: "WGS84toUTM.xml",
		},
		Watch: Watch{
			SettleSeconds: 30,
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
