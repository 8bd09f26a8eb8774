package supervisor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

//go:embed defaults.yaml
var defaultTable []byte

type document struct {
	Components []Descriptor `yaml:"components" toml:"components" json:"components"`
}

// Parse decodes descriptors from data. The format is chosen by ext
// (".yaml", ".yml", ".toml" or ".json").
func Parse(data []byte, ext string) ([]Descriptor, error) {
	var doc document
	var err error

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".json":
		err = sonic.ConfigStd.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("%w: unsupported descriptor format %q", errs.ErrInvalidDescriptor, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidDescriptor, err)
	}
	return doc.Components, nil
}

// DefaultDescriptors returns the embedded component table, unexpanded.
func DefaultDescriptors() ([]Descriptor, error) {
	return Parse(defaultTable, ".yaml")
}

// Load reads descriptors from pattern, applies defaults, expands variables
// and returns the ordered table. Pattern may be a single file or a glob
// ("conf.d/**/*.yaml"); matches are merged in lexical order. An empty
// pattern selects the embedded table.
func Load(pattern string, vars Variables, def Defaults) (*Table, error) {
	var descs []Descriptor

	if pattern == "" {
		parsed, err := DefaultDescriptors()
		if err != nil {
			return nil, fmt.Errorf("embedded descriptors: %w", err)
		}
		descs = parsed
	} else {
		files, err := resolve(pattern)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("reading descriptors: %w", err)
			}
			parsed, err := Parse(data, filepath.Ext(file))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			descs = append(descs, parsed...)
		}
	}

	return Build(descs, vars, def)
}

// Build applies defaults and variables to raw descriptors and orders them.
func Build(descs []Descriptor, vars Variables, def Defaults) (*Table, error) {
	prepared := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		expanded, err := d.withDefaults(def).expand(vars)
		if err != nil {
			return nil, fmt.Errorf("%w: component %q: %v", errs.ErrInvalidDescriptor, d.Name, err)
		}
		prepared = append(prepared, expanded)
	}
	return NewTable(prepared)
}

func resolve(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		return []string{pattern}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad descriptor glob %q: %v", errs.ErrInvalidDescriptor, pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no descriptor files match %q", errs.ErrInvalidDescriptor, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}
