package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collect loads every manifest found under paths. Directories are walked
// for .yaml and .yml files; a file may hold several documents. With no
// paths the current directory is used.
func Collect(paths []string) ([]*Manifest, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var out []*Manifest
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			if !isYAML(p) {
				return nil, fmt.Errorf("%s is not a YAML file", p)
			}
			if out, err = appendFile(p, out); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !isYAML(path) {
				return nil
			}
			var err error
			out, err = appendFile(path, out)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func appendFile(path string, out []*Manifest) ([]*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	docs, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return append(out, docs...), nil
}

// Decode reads every non-empty document from r and validates each one.
func Decode(r io.Reader) ([]*Manifest, error) {
	dec := yaml.NewDecoder(r)

	var out []*Manifest
	for i := 0; ; i++ {
		var m Manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if m.blank() {
			continue
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, &m)
	}

	return out, nil
}

func (m *Manifest) blank() bool {
	return m.APIVersion == "" &&
		m.Kind == "" &&
		strings.TrimSpace(m.Flake.RepoURL) == "" &&
		m.Commit == nil &&
		len(m.Units) == 0
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
