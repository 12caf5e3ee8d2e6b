package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yourorg/capgen/pkg/types"
)

// Kinds of artifact written per tool.
const (
	Constraints = "constraints"
	Utterances  = "utterances"
	Reports     = "reports"
	Judgements  = "judgements"
)

var codec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// ErrNotFound is returned by Read when the artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Dir lays out artifacts under one output directory.
type Dir struct {
	Root string
}

// Path is Root/<kind>/<key>, with ".json" appended when the key carries no extension.
func (d Dir) Path(kind, key string) string {
	name := filepath.FromSlash(key)
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return filepath.Join(d.Root, kind, name)
}

func (d Dir) Exists(kind, key string) bool {
	info, err := os.Stat(d.Path(kind, key))
	return err == nil && !info.IsDir()
}

// Read decodes the tool artifact for key.
func (d Dir) Read(kind, key string) (*types.ToolSpec, error) {
	var tool types.ToolSpec
	if err := d.ReadValue(kind, key, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// Write stores the tool artifact for key.
func (d Dir) Write(kind, key string, tool *types.ToolSpec) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	return d.WriteValue(kind, key, tool)
}

// ReadValue decodes any artifact into v.
func (d Dir) ReadValue(kind, key string, v any) error {
	data, err := os.ReadFile(d.Path(kind, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
		}
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return nil
}

// WriteValue stores v atomically: a temp file in the target directory renamed over the path.
func (d Dir) WriteValue(kind, key string, v any) error {
	path := d.Path(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := codec.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

// Keys lists the stored keys of kind in lexical order. They match source.Entry keys.
func (d Dir) Keys(kind string) ([]string, error) {
	root := filepath.Join(d.Root, kind)
	var keys []string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return keys, err
}
