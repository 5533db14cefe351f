package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Format selects the on-disk encoding of a File store.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// File stores each document as one file under a root directory. The key
// "experiments/gpt-4/planet/20240101T000000.000000000Z" becomes
// <root>/experiments/gpt-4/planet/20240101T000000.000000000Z.json.
type File struct {
	root   string
	format Format
}

// NewFile returns a store rooted at dir, creating it if needed.
func NewFile(dir string, format Format) (*File, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unknown file store format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{root: dir, format: format}, nil
}

// Root returns the store directory.
func (f *File) Root() string {
	return f.root
}

func (f *File) ext() string {
	return "." + string(f.format)
}

// Path returns the file a key is stored in.
func (f *File) Path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key)+f.ext())
}

// Put implements Store. Files are written to a temporary name and renamed
// into place so readers never see a partial document.
func (f *File) Put(_ context.Context, key string, doc any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := f.marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	path := f.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string, doc any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := f.unmarshal(data, doc); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// List implements Store.
func (f *File) List(_ context.Context, pattern string) ([]string, error) {
	files, err := doublestar.Glob(os.DirFS(f.root), "**/*"+f.ext(), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.root, err)
	}
	keys := make([]string, 0, len(files))
	for _, name := range files {
		if strings.HasPrefix(filepath.Base(name), ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, f.ext()))
	}
	return matchKeys(keys, pattern)
}

// Close implements Store.
func (f *File) Close() error {
	return nil
}

func (f *File) marshal(doc any) ([]byte, error) {
	if f.format == FormatYAML {
		return yaml.Marshal(doc)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (f *File) unmarshal(data []byte, doc any) error {
	if f.format == FormatYAML {
		return yaml.Unmarshal(data, doc)
	}
	return json.Unmarshal(data, doc)
}
