package detect

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Default candidate locations, relative to the working directory, so the
// binary finds its models whether started from the repo root or a build dir.
var (
	DefaultModelPaths = []string{
		"AIStuff/yolov8n.onnx",
		"../AIStuff/yolov8n.onnx",
		"../../AIStuff/yolov8n.onnx",
	}
	DefaultClassNamesPaths = []string{
		"AIStuff/coco.names",
		"../AIStuff/coco.names",
		"../../AIStuff/coco.names",
	}
)

// Artifacts are the resolved model and class name files.
type Artifacts struct {
	ModelPath      string
	ClassNamesPath string
	ClassNames     []string
}

// ResolveArtifacts walks the parallel candidate lists and returns the first
// index whose model file exists and whose class names file holds at least one
// non-empty line. Entries past the shorter list are ignored.
func ResolveArtifacts(modelPaths, namesPaths []string) (Artifacts, error) {
	n := min(len(modelPaths), len(namesPaths))

	for i := 0; i < n; i++ {
		model, names := modelPaths[i], namesPaths[i]

		info, err := os.Stat(model)
		if err != nil || info.IsDir() {
			slog.Debug("stream-counter: model candidate missing", "path", model)
			continue
		}

		classes, err := LoadClassNames(names)
		if err != nil {
			slog.Debug("stream-counter: class names candidate rejected", "path", names, "error", err)
			continue
		}

		return Artifacts{ModelPath: model, ClassNamesPath: names, ClassNames: classes}, nil
	}

	return Artifacts{}, fmt.Errorf("%w: no usable model in %v with class names in %v",
		ErrModelUnavailable, modelPaths, namesPaths)
}

// LoadClassNames reads one class name per non-empty line. Line order defines
// the class id.
func LoadClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: no class names", path)
	}
	return names, nil
}

// TargetClassID resolves a class name case-insensitively, falling back to
// the given id when the name is empty or unknown.
func TargetClassID(names []string, name string, fallback int) int {
	if name == "" {
		return fallback
	}
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	slog.Warn("stream-counter: target class not in class names, using fallback id",
		"target_class", name,
		"fallback_id", fallback,
	)
	return fallback
}
