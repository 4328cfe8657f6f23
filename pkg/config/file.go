package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads path into target, choosing the decoder from the file extension.
// Unknown keys are rejected so a misspelled setting fails loudly; an empty
// file leaves target untouched.
func Load(path string, target interface{}) error {
	switch ext(path) {
	case ".json":
		return LoadJSON(path, target)
	case ".yaml", ".yml":
		return LoadYAML(path, target)
	}
	return unsupported(path)
}

// Save writes v to path in the format named by its extension.
func Save(path string, v interface{}) error {
	switch ext(path) {
	case ".json":
		return SaveJSON(path, v)
	case ".yaml", ".yml":
		return SaveYAML(path, v)
	}
	return unsupported(path)
}

// LoadJSON decodes the JSON file at path into target.
func LoadJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to unmarshal JSON %s: %w", path, err)
	}
	return nil
}

// LoadYAML decodes the YAML file at path into target.
func LoadYAML(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to unmarshal YAML %s: %w", path, err)
	}
	return nil
}

// SaveJSON writes v to path as indented JSON.
func SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return write(path, append(data, '\n'))
}

// SaveYAML writes v to path as YAML.
func SaveYAML(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return write(path, buf.Bytes())
}

func write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func unsupported(path string) error {
	return fmt.Errorf("unsupported config file %s: want .json, .yaml or .yml", path)
}
