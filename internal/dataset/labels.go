package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/plant-disease-api/internal/config"
)

// WriteLabels persists the taxonomy one name per line, creating the parent
// directory when needed.
func WriteLabels(path string, classes Taxonomy) error {
	if len(classes) == 0 {
		return &config.ConfigurationError{Path: path, Reason: "refusing to write an empty taxonomy"}
	}
	for _, c := range classes {
		if strings.ContainsAny(c, "\r\n") {
			return &config.ConfigurationError{Path: path, Reason: fmt.Sprintf("class name %q contains a newline", c)}
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create labels directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(classes, "\n")), 0644); err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	return nil
}

// ReadLabels loads a taxonomy written by WriteLabels.
func ReadLabels(path string) (Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &config.ConfigurationError{Path: path, Reason: "cannot open labels", Err: err}
	}
	defer f.Close()

	var classes Taxonomy
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		classes = append(classes, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels %s: %w", path, err)
	}

	if len(classes) == 0 {
		return nil, &config.ConfigurationError{Path: path, Reason: "labels file is empty"}
	}
	return classes, nil
}
