package mm3d

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stereopipe/internal/extool"
	"stereopipe/internal/fsutil"
)

// chdir changes the working directory for the duration of the test,
// restoring the original directory during cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatal(err)
		}
	})
}

type stubRunner struct {
	commands []extool.Command
	err      error
	onRun    func(cmd extool.Command)
}

func (s *stubRunner) Run(ctx context.Context, cmd extool.Command) (extool.Output, error) {
	s.commands = append(s.commands, cmd)
	if s.onRun != nil {
		s.onRun(cmd)
	}
	return extool.Output{}, s.err
}

func newTestToolchain(runner extool.Runner) *Toolchain {
	return NewToolchain(runner, "mm3d", "WGS84toUTM.xml", DefaultMatchingParams(), nil)
}

func lastArgs(t *testing.T, stub *stubRunner) []string {
	t.Helper()
	if len(stub.commands) == 0 {
		t.Fatal("expected an mm3d invocation")
	}
	return stub.commands[len(stub.commands)-1].Args
}

func TestTapiocaArguments(t *testing.T) {
	stub := &stubRunner{}
	tc := newTestToolchain(stub)
	if err := tc.Tapioca(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := strings.Join(lastArgs(t, stub), " ")
	want := "Tapioca All .*.TIF -1 ExpTxt=1 @ExitOnBrkp"
	if got != want {
		t.Fatalf("expected args %q, got %q", want, got)
	}
}

func TestConvertToGenBundleArguments(t *testing.T) {
	stub := &stubRunner{}
	tc := newTestToolchain(stub)
	if err := tc.ConvertToGenBundle(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := strings.Join(lastArgs(t, stub), " ")
	want := "Convert2GenBundle (.*).TIF $1.XML RPC-d0 ChSys=WGS84toUTM.xml Degre=0 @ExitOnBrkp"
	if got != want {
		t.Fatalf("expected args %q, got %q", want, got)
	}
}

func TestCampariArguments(t *testing.T) {
	stub := &stubRunner{}
	tc := newTestToolchain(stub)
	if err := tc.Campari(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := strings.Join(lastArgs(t, stub), " ")
	want := "Campari .*TIF RPC-d0 RPC-d0-adj ExpTxt=1 @ExitOnBrkp"
	if got != want {
		t.Fatalf("expected args %q, got %q", want, got)
	}
}

func TestMaltArgumentsAndOutputCheck(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	stub := &stubRunner{onRun: func(cmd extool.Command) {
		// Simulate mm3d writing the DSM outputs into the working dir.
		if err := os.MkdirAll("MEC-Malt", 0755); err != nil {
			t.Fatal(err)
		}
		for _, p := range []string{DSMRaster(), DSMWorldFile(), DSMSidecar()} {
			if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}}
	tc := newTestToolchain(stub)
	if err := tc.Malt(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := strings.Join(lastArgs(t, stub), " ")
	want := "Malt UrbanMNE .*TIF RPC-d0-adj SzW=2 Regul=0.2 DoOrtho=1 NbVI=2 EZA=1 @ExitOnBrkp"
	if got != want {
		t.Fatalf("expected args %q, got %q", want, got)
	}
}

func TestMaltMissingOutputs(t *testing.T) {
	chdir(t, t.TempDir())

	stub := &stubRunner{}
	tc := newTestToolchain(stub)
	err := tc.Malt(context.Background())
	var notFound *fsutil.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *fsutil.NotFoundError, got %T: %v", err, err)
	}
	if notFound.Path != DSMRaster() {
		t.Fatalf("expected first missing output %s, got %s", DSMRaster(), notFound.Path)
	}
}

func TestStagePropagatesExternalToolError(t *testing.T) {
	stub := &stubRunner{err: &extool.ExternalToolError{
		Tool:     "mm3d",
		ExitCode: 1,
		Stderr:   "cannot open image",
	}}
	tc := newTestToolchain(stub)
	err := tc.Tapioca(context.Background())
	var toolErr *extool.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *extool.ExternalToolError, got %T: %v", err, err)
	}
	if !strings.Contains(toolErr.Stderr, "cannot open image") {
		t.Fatalf("expected diagnostic preserved, got %q", toolErr.Stderr)
	}
}

func TestConventionalOutputPaths(t *testing.T) {
	if DSMRaster() != "MEC-Malt/Z_Num8_DeZoom1_STD-MALT.tif" {
		t.Fatalf("unexpected DSM raster path: %s", DSMRaster())
	}
	if DSMWorldFile() != "MEC-Malt/Z_Num8_DeZoom1_STD-MALT.tfw" {
		t.Fatalf("unexpected world file path: %s", DSMWorldFile())
	}
	if DSMSidecar() != "MEC-Malt/Z_Num8_DeZoom1_STD-MALT.xml" {
		t.Fatalf("unexpected sidecar path: %s", DSMSidecar())
	}
	if DSMShade() != "MEC-Malt/Z_Num8_DeZoom1_STD-MALTShade.tif" {
		t.Fatalf("unexpected shade path: %s", DSMShade())
	}
	if Orthomosaic() != "Ortho-MEC-Malt/Orthophotomosaic.tif" {
		t.Fatalf("unexpected orthomosaic path: %s", Orthomosaic())
	}
	if filepath.ToSlash(HomolPath("a.TIF", "b.TIF")) != "Homol/Pastisb.TIF/a.TIF.txt" {
		t.Fatalf("unexpected homol path: %s", HomolPath("a.TIF", "b.TIF"))
	}
}
