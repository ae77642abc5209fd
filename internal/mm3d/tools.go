package mm3d

import (
	"os/exec"
	"strings"
)

// ToolStatus represents the availability of an external binary.
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// CheckTool verifies a binary is on PATH and probes its version banner.
func CheckTool(name string) ToolStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}

	var versionArgs []string
	switch name {
	case "mm3d":
		versionArgs = []string{"CheckDependencies"}
	case "gdal_translate":
		versionArgs = []string{"--version"}
	default:
		return ToolStatus{Available: true, Path: path}
	}

	out, err := exec.Command(name, versionArgs...).CombinedOutput()
	if err != nil && len(out) == 0 {
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	// mm3d exits non-zero for some probe subcommands but still prints a
	// usable banner.
	return ToolStatus{Available: true, Version: extractVersion(string(out)), Path: path}
}

// CheckAll reports the status of every binary the pipeline invokes.
func CheckAll(binaries ...string) map[string]ToolStatus {
	status := make(map[string]ToolStatus, len(binaries))
	for _, b := range binaries {
		status[b] = CheckTool(b)
	}
	return status
}

func extractVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	if first := strings.TrimSpace(strings.SplitN(output, "\n", 2)[0]); first != "" {
		return first
	}
	return "unknown"
}
