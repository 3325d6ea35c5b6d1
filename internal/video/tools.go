package video

import (
	"fmt"
	"os/exec"
	"strings"
)

// ToolStatus reports whether an external binary is usable.
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// CheckTool verifies that an external tool is on PATH and responding.
func CheckTool(name string) ToolStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}

	var versionCmd []string
	switch name {
	case "ffmpeg":
		versionCmd = []string{"ffmpeg", "-version"}
	case "ffprobe":
		versionCmd = []string{"ffprobe", "-version"}
	case "exiftool":
		versionCmd = []string{"exiftool", "-ver"}
	default:
		return ToolStatus{Available: true, Path: path}
	}

	cmd := exec.Command(versionCmd[0], versionCmd[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
		}
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

// RequireTools returns an error naming the first missing tool.
func RequireTools(names ...string) error {
	for _, name := range names {
		if status := CheckTool(name); !status.Available {
			return fmt.Errorf("required tool %s not available: %w", name, status.Error)
		}
	}
	return nil
}

func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
