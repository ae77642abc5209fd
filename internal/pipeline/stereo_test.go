package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"stereopipe/internal/config"
	"stereopipe/internal/extool"
	"stereopipe/internal/mm3d"
	"stereopipe/internal/storage"
)

// fakeToolRunner records every invocation and fabricates the conventional
// MicMac outputs the later stages depend on. File writes are relative: the
// orchestrator runs the stages chdir'd into the input directory.
type fakeToolRunner struct {
	commands []extool.Command
	failOn   string // mm3d subcommand to fail, empty for all-success
}

const sidecarContent = `<FileOriMnt><NombrePixels>1000 800</NombrePixels></FileOriMnt>`

const worldFileContent = "2.0\n0.0\n0.0\n-2.0\n500000.0\n4000000.0\n"

func (f *fakeToolRunner) Run(_ context.Context, cmd extool.Command) (extool.Output, error) {
	f.commands = append(f.commands, cmd)

	if cmd.Name != "mm3d" {
		return extool.Output{}, nil
	}
	sub := cmd.Args[0]
	if sub == f.failOn {
		return extool.Output{ExitCode: 1, Stderr: "simulated failure"}, &extool.ExternalToolError{
			Tool: cmd.Name, Args: cmd.Args, ExitCode: 1, Stderr: "simulated failure",
		}
	}

	switch sub {
	case "Tapioca":
		writeRel(mm3d.HomolPath("img_a.TIF", "img_b.TIF"),
			"10.5 20.25 110.5 120.25\n30 40 130 140\n")
	case "Malt":
		writeRel(mm3d.DSMRaster(), "raster-bytes")
		writeRel(mm3d.DSMWorldFile(), worldFileContent)
		writeRel(mm3d.DSMSidecar(), sidecarContent)
	case "Tawny":
		writeRel(mm3d.Orthomosaic(), "mosaic-bytes")
	}
	return extool.Output{}, nil
}

func writeRel(path, content string) {
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	_ = os.WriteFile(path, []byte(content), 0644)
}

func newSceneDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"img_a.TIF", "img_b.TIF"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("tif"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig() *config.Config {
	return &config.Config{
		Paths: config.Paths{GeoOutputDir: "geo"},
		Tools: config.Tools{MM3D: "mm3d", GDALTranslate: "gdal_translate"},
		Matching: config.Matching{
			SizeWindow:     2,
			Regularization: 0.2,
			MinVisibility:  2,
			DoOrtho:        true,
		},
		Georeference: config.Georeference{SRID: "EPSG:32638", ChSysFile: "WGS84toUTM.xml"},
	}
}

func TestOrchestratorRunInvokesToolchainInOrder(t *testing.T) {
	dir := newSceneDir(t)
	fake := &fakeToolRunner{}
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := NewOrchestrator(testConfig(), fake, slog.Default(), store)
	start, _ := os.Getwd()

	if err := o.Run(context.Background(), dir); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if after, _ := os.Getwd(); after != start {
		t.Fatalf("working directory not restored: %s", after)
	}

	wantSeq := []string{"Tapioca", "Convert2GenBundle", "Campari", "Malt", "GrShade", "Tawny"}
	var gotSeq []string
	for _, cmd := range fake.commands {
		if cmd.Name == "mm3d" {
			gotSeq = append(gotSeq, cmd.Args[0])
			if cmd.Args[len(cmd.Args)-1] != "@ExitOnBrkp" {
				t.Fatalf("mm3d %s missing trailing @ExitOnBrkp: %v", cmd.Args[0], cmd.Args)
			}
		}
	}
	if !reflect.DeepEqual(gotSeq, wantSeq) {
		t.Fatalf("unexpected mm3d sequence: %v", gotSeq)
	}

	last := fake.commands[len(fake.commands)-1]
	if last.Name != "gdal_translate" {
		t.Fatalf("expected final gdal_translate invocation, got %s", last.Name)
	}
	wantArgs := []string{
		"-of", "GTiff",
		"-a_srs", "EPSG:32638",
		"-a_ullr", "500000", "4000000", "502000", "3998400",
		mm3d.DSMRaster(),
		filepath.Join("geo", "DSM.tif"),
	}
	if !reflect.DeepEqual(last.Args, wantArgs) {
		t.Fatalf("unexpected gdal_translate args:\n got %v\nwant %v", last.Args, wantArgs)
	}

	if _, err := os.Stat(filepath.Join(dir, "geo")); err != nil {
		t.Fatalf("expected geo output directory: %v", err)
	}
}

func TestOrchestratorPersistsRunAndStages(t *testing.T) {
	dir := newSceneDir(t)
	fake := &fakeToolRunner{}
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := NewOrchestrator(testConfig(), fake, slog.Default(), store)
	if err := o.Run(context.Background(), dir); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("expected one completed run, got %+v", runs)
	}

	stages, err := store.RunStages(runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	wantStages := []string{"tapioca", "tie-points", "convert2genbundle", "campari", "malt", "grshade", "tawny", "georeference"}
	if len(stages) != len(wantStages) {
		t.Fatalf("expected %d stage records, got %d", len(wantStages), len(stages))
	}
	for i, want := range wantStages {
		if stages[i].Stage != want || stages[i].Status != "completed" {
			t.Fatalf("stage %d: expected completed %s, got %+v", i, want, stages[i])
		}
	}

	var points int
	if err := store.DB.QueryRow(`SELECT point_count FROM tie_point_stats WHERE run_id=?;`, runs[0].ID).Scan(&points); err != nil {
		t.Fatal(err)
	}
	if points != 2 {
		t.Fatalf("expected 2 recorded tie points, got %d", points)
	}

	var lrx, lry float64
	if err := store.DB.QueryRow(`SELECT lower_right_x, lower_right_y FROM run_bounds WHERE run_id=?;`, runs[0].ID).Scan(&lrx, &lry); err != nil {
		t.Fatal(err)
	}
	if lrx != 502000 || lry != 3998400 {
		t.Fatalf("unexpected persisted bounds: %v / %v", lrx, lry)
	}
}

func TestOrchestratorAbortsOnStageFailure(t *testing.T) {
	dir := newSceneDir(t)
	fake := &fakeToolRunner{failOn: "Campari"}

	o := NewOrchestrator(testConfig(), fake, slog.Default(), nil)
	start, _ := os.Getwd()

	err := o.Run(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error when bundle adjustment fails")
	}
	if !strings.Contains(err.Error(), "campari") {
		t.Fatalf("expected failed stage named, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "simulated failure") {
		t.Fatalf("expected tool diagnostic preserved, got %q", err.Error())
	}

	for _, cmd := range fake.commands {
		if cmd.Name == "mm3d" && cmd.Args[0] == "Malt" {
			t.Fatal("dense matching must not run after a failed adjustment")
		}
		if cmd.Name == "gdal_translate" {
			t.Fatal("georeferencing must not run after a failed stage")
		}
	}

	if after, _ := os.Getwd(); after != start {
		t.Fatalf("working directory not restored after failure: %s", after)
	}
}

func TestOrchestratorRejectsThinScenes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "only.TIF"), []byte("tif"), 0644); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(testConfig(), &fakeToolRunner{}, slog.Default(), nil)
	err := o.Run(context.Background(), dir)
	if err == nil || !strings.Contains(err.Error(), "at least 2") {
		t.Fatalf("expected stereo pair requirement error, got %v", err)
	}
}

func TestOrchestratorRejectsMissingInputDir(t *testing.T) {
	o := NewOrchestrator(testConfig(), &fakeToolRunner{}, slog.Default(), nil)
	err := o.Run(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for missing input directory")
	}
}
