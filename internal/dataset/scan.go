// Package dataset reads an image-folder dataset: a root directory whose
// immediate subdirectories are class names and whose files are images.
package dataset

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
)

// Taxonomy is the ordered list of class names. The index of a name is the
// class identity used by the model's output layer.
type Taxonomy []string

// Sample is one labeled image.
type Sample struct {
	Path  string
	Class int
}

// Scan is the result of walking a dataset root.
type Scan struct {
	Root    string
	Classes Taxonomy
	Counts  []int
	Samples []Sample
}

// ScanDir lists the class directories of root in sorted order and collects
// their images recursively in lexical order.
func ScanDir(root string) (*Scan, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &config.ConfigurationError{Path: root, Reason: "dataset root not found", Err: err}
	}
	if !info.IsDir() {
		return nil, &config.ConfigurationError{Path: root, Reason: "dataset root is not a directory"}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &config.ConfigurationError{Path: root, Reason: "cannot list dataset root", Err: err}
	}

	scan := &Scan{Root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		class := len(scan.Classes)
		dir := filepath.Join(root, entry.Name())
		count := 0
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !imaging.IsImage(d.Name()) {
				return nil
			}
			scan.Samples = append(scan.Samples, Sample{Path: path, Class: class})
			count++
			return nil
		})
		if err != nil {
			return nil, &config.ConfigurationError{Path: dir, Reason: "cannot walk class directory", Err: err}
		}
		scan.Classes = append(scan.Classes, entry.Name())
		scan.Counts = append(scan.Counts, count)
	}

	if len(scan.Classes) == 0 {
		return nil, &config.ConfigurationError{Path: root, Reason: "dataset root has no class subdirectories"}
	}
	return scan, nil
}

// EmptyClasses returns the names of classes without any image.
func (s *Scan) EmptyClasses() []string {
	var empty []string
	for i, n := range s.Counts {
		if n == 0 {
			empty = append(empty, s.Classes[i])
		}
	}
	return empty
}
