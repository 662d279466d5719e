package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"testbot/pkg/models"
)

// TargetsFile is the on-disk layout of the targets configuration.
type TargetsFile struct {
	Tests []models.RunTarget `json:"tests" yaml:"tests"`
}

// LoadTargets reads the targets file at path. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON. Every target is validated.
func LoadTargets(path string) ([]models.RunTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	return ParseTargets(data, filepath.Ext(path))
}

// ParseTargets decodes and validates a targets document. ext selects the
// format the same way LoadTargets does.
func ParseTargets(data []byte, ext string) ([]models.RunTarget, error) {
	var file TargetsFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, &models.ConfigurationError{Field: "tests", Reason: "invalid YAML: " + err.Error()}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&file); err != nil {
			return nil, &models.ConfigurationError{Field: "tests", Reason: "invalid JSON: " + err.Error()}
		}
	}

	if len(file.Tests) == 0 {
		return nil, &models.ConfigurationError{Field: "tests", Reason: "no targets configured"}
	}
	for i, t := range file.Tests {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tests[%d]: %w", i, err)
		}
	}
	return file.Tests, nil
}
