package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// fileDocument is the on-disk YAML shape. One file holds many namespaces.
type fileDocument struct {
	Namespaces map[string]map[string]string `yaml:"namespaces"`
}

// FileStore persists to a YAML file. Writes go to a temp file in the same directory and are
// renamed into place, so a crash leaves either the old or the new set.
type FileStore struct {
	mu   sync.Mutex
	path string
	opts Options
}

func NewFileStore(path string, opts Options) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &FileStore{path: path, opts: opts.withDefaults()}, nil
}

func (f *FileStore) Save(ctx context.Context, rec models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Namespaces[f.opts.Namespace] = Encode(rec, f.opts.TimeZone)

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	return f.writeAtomic(raw)
}

func (f *FileStore) Load(ctx context.Context) (models.CachedState, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedState{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return models.CachedState{}, false, err
	}
	state, ok := Decode(doc.Namespaces[f.opts.Namespace])
	return state, ok, nil
}

func (f *FileStore) read() (fileDocument, error) {
	doc := fileDocument{}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc.Namespaces = map[string]map[string]string{}
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("file store: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("file store: parse %s: %w", f.path, err)
	}
	if doc.Namespaces == nil {
		doc.Namespaces = map[string]map[string]string{}
	}
	return doc, nil
}

func (f *FileStore) writeAtomic(raw []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}
