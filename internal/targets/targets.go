// Package targets reads target list files: the attributes a build pass
// should cover, in a compact YAML form.
package targets

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/narvanalabs/mydra/internal/models"
)

// SupportedAPI is the only target file format version understood.
const SupportedAPI = "0"

var (
	// ErrUnsupportedAPI is returned for files declaring another mydraApi.
	ErrUnsupportedAPI = errors.New("unsupported mydraApi")
	// ErrNoTargets is returned for files that name no attribute at all.
	ErrNoTargets = errors.New("target file names no attributes")
)

// File is a target list file.
//
//	mydraApi: "0"
//	pythonVersions: ["39", "310"]
//	pythonPackageNames: [numpy, scipy]
//	nativePackages: [hello]
type File struct {
	API                string   `yaml:"mydraApi"`
	PythonVersions     []string `yaml:"pythonVersions"`
	PythonPackageNames []string `yaml:"pythonPackageNames"`
	NativePackages     []string `yaml:"nativePackages"`
}

// Load reads and validates the target file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading target file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a target file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing target file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the declared format version and that some target is named.
func (f *File) Validate() error {
	if f.API != SupportedAPI {
		return fmt.Errorf("%w %q, want %q", ErrUnsupportedAPI, f.API, SupportedAPI)
	}
	if len(f.NativePackages) == 0 && (len(f.PythonVersions) == 0 || len(f.PythonPackageNames) == 0) {
		return ErrNoTargets
	}
	return nil
}

// Attributes expands the file into attribute paths: python{ver}Packages.{name}
// for every version and package name, then the native packages. Duplicates
// are dropped, keeping the first occurrence.
func (f *File) Attributes() []models.Attribute {
	seen := make(map[models.Attribute]bool)
	var out []models.Attribute

	add := func(a models.Attribute) {
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}

	for _, ver := range f.PythonVersions {
		for _, name := range f.PythonPackageNames {
			add(models.Attribute(fmt.Sprintf("python%sPackages.%s", ver, name)))
		}
	}
	for _, name := range f.NativePackages {
		add(models.Attribute(name))
	}
	return out
}
