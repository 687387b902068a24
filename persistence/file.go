package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"sigs.k8s.io/yaml"
)

// FileStore keeps the watcher set in a single JSON or YAML file, chosen by
// extension. Field names are matched case-insensitively on read.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load(ctx context.Context) (*WatcherSet, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", s.Path, err)
	}

	var set WatcherSet
	if err := yaml.Unmarshal(b, &set); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", s.Path, err)
	}

	if len(set.Watchers) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrConfigEmpty, s.Path)
	}

	return &set, nil
}

func (s *FileStore) Save(ctx context.Context, set *WatcherSet) error {
	b, err := s.encode(set)
	if err != nil {
		return fmt.Errorf("could not encode watchers: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := atomicwriter.WriteFile(s.Path, b, 0o600); err != nil {
		return fmt.Errorf("could not write %s: %w", s.Path, err)
	}

	return nil
}

func (s *FileStore) encode(set *WatcherSet) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(set)
	default:
		b, err := json.MarshalIndent(set, "", "  ")
		if err != nil {
			return nil, err
		}

		return append(b, '\n'), nil
	}
}
