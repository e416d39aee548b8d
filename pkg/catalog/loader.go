package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog layout
type File struct {
	Groups       []Group      `yaml:"groups"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// Parse decodes a YAML catalog and validates it. Unknown keys are rejected so
// that a typo such as "critcal" cannot silently drop a flag.
func Parse(data []byte) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("parse: %v", err)}}
	}
	return New(f.Groups, f.Dependencies)
}

// LoadFile reads and validates a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Marshal encodes the catalog back into its YAML layout
func Marshal(c *Catalog) ([]byte, error) {
	data, err := yaml.Marshal(File{Groups: c.Groups(), Dependencies: c.Dependencies()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return data, nil
}
