package filtering

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// fileLock protects atomic file writes
	fileLock sync.Mutex
)

// ParseFile reads a YAML filter file and returns its well-formed filters in
// file order. Malformed entries are skipped; a missing file has no filters.
func ParseFile(path string) ([]*FilterYAML, error) {
	filters, _, err := ParseFileWithErrors(path)
	return filters, err
}

// ParseFileWithErrors reads a YAML filter file, returning both
// valid filters and any problems with individual entries
func ParseFileWithErrors(path string) ([]*FilterYAML, []error, error) {
	// #nosec G304 -- Path is from configuration or the command line
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read filter file: %w", err)
	}

	var config FilterConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse filter YAML %s: %w", path, err)
	}

	var (
		filters     []*FilterYAML
		parseErrors []error
		seen        = map[string]bool{}
	)
	for i, f := range config.Filters {
		if f == nil {
			parseErrors = append(parseErrors, fmt.Errorf("entry %d: empty filter", i+1))
			continue
		}
		if err := ValidateFilterYAML(f); err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("filter %q: %w", f.ID, err))
			continue
		}
		if seen[f.ID] {
			parseErrors = append(parseErrors, fmt.Errorf("filter %q: %w", f.ID,
				&ValidationError{Field: "id", Message: "duplicate filter ID"}))
			continue
		}
		seen[f.ID] = true
		filters = append(filters, f)
	}

	return filters, parseErrors, nil
}

// WriteFile writes filters to a YAML file with atomic write
func WriteFile(path string, filters []*FilterYAML) error {
	fileLock.Lock()
	defer fileLock.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create filter directory: %w", err)
	}

	config := FilterConfig{Filters: filters}
	if config.Filters == nil {
		config.Filters = []*FilterYAML{}
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to marshal filters to YAML: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp filter file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp filter file: %w", err)
	}

	return nil
}

// GetDefaultFilterFilePath returns the default path of the filter file
func GetDefaultFilterFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "filters.yaml" // Fallback to local directory
	}
	return filepath.Join(homeDir, ".config", "pktmunch", "filters.yaml")
}
