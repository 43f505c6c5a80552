// Package spec parses the YAML function manifests accepted by the
// `serverlessd apply` command: a declarative way to register or update
// functions without hand-building ExecutionRequest/Function JSON.
package spec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oriys/serverlessd/internal/domain"
)

// FunctionManifest is one YAML document describing a function to register.
type FunctionManifest struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Code     string `yaml:"code"`               // inline source, mutually exclusive with CodeFile
	CodeFile string `yaml:"codeFile,omitempty"`  // path to source, resolved relative to the manifest file
	TimeoutS int    `yaml:"timeoutSeconds,omitempty"`
}

// Bundle holds every function manifest parsed from one file.
type Bundle struct {
	Functions []FunctionManifest
}

// ParseFile reads and parses a YAML manifest file, resolving any CodeFile
// paths relative to the manifest's own directory.
func ParseFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spec: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, filepath.Dir(path))
}

// Parse decodes a (possibly multi-document) YAML stream into a Bundle.
func Parse(r io.Reader, baseDir string) (*Bundle, error) {
	dec := yaml.NewDecoder(r)

	var manifests []FunctionManifest
	for {
		var m FunctionManifest
		err := dec.Decode(&m)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("spec: decode yaml: %w", err)
		}
		if m.Name == "" && m.Language == "" {
			continue // skip empty `---` separated documents
		}
		if m.CodeFile != "" && !filepath.IsAbs(m.CodeFile) {
			m.CodeFile = filepath.Join(baseDir, m.CodeFile)
		}
		manifests = append(manifests, m)
	}

	if len(manifests) == 0 {
		return nil, fmt.Errorf("spec: no function manifests found")
	}
	return &Bundle{Functions: manifests}, nil
}

// Validate checks the manifest is complete and names a supported language.
func (m *FunctionManifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("spec: name is required")
	}
	lang := domain.Language(m.Language)
	if !lang.IsValid() {
		return fmt.Errorf("spec: unsupported language %q", m.Language)
	}
	if m.Code == "" && m.CodeFile == "" {
		return fmt.Errorf("spec: one of code or codeFile is required")
	}
	if m.TimeoutS < 0 || m.TimeoutS > 300 {
		return fmt.Errorf("spec: timeoutSeconds must be between 0 and 300")
	}
	return nil
}

// ToFunction resolves the manifest into a domain.Function, reading CodeFile
// from disk when the source isn't given inline. TimeoutS defaults to 30s
// when unset.
func (m *FunctionManifest) ToFunction() (*domain.Function, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	code := m.Code
	if code == "" {
		data, err := os.ReadFile(m.CodeFile)
		if err != nil {
			return nil, fmt.Errorf("spec: read code file %s: %w", m.CodeFile, err)
		}
		code = string(data)
	}

	timeout := m.TimeoutS
	if timeout == 0 {
		timeout = 30
	}

	return &domain.Function{
		Name:     m.Name,
		Language: domain.Language(m.Language),
		Code:     code,
		TimeoutS: timeout,
	}, nil
}
