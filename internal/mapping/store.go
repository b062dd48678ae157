package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	storeFileMode   = 0o600
	storeDirMode    = 0o700
	tempFilePattern = ".user-mapping-*.json.tmp"
)

// Store persists the whole telegram id -> account id table.
type Store interface {
	Load() (map[int64]string, error)
	Save(map[int64]string) error
}

// FileStore keeps the table in a JSON object keyed by the decimal
// telegram id. Every Save replaces the file atomically.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("mapping file path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve mapping path: %w", err)
	}
	return &FileStore{path: filepath.Clean(abs)}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns an empty table when the file does not exist.
func (s *FileStore) Load() (map[int64]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[int64]string{}, nil
		}
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}

	out := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode mapping file: bad telegram id %q: %w", k, err)
		}
		if v == "" {
			continue
		}
		out[id] = v
	}
	return out, nil
}

func (s *FileStore) Save(mappings map[int64]string) error {
	raw := make(map[string]string, len(mappings))
	for k, v := range mappings {
		raw[strconv.FormatInt(k, 10)] = v
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mapping file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("create mapping directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp mapping file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp mapping file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp mapping file: %w", err)
	}
	if err := tempFile.Chmod(storeFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp mapping file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp mapping file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace mapping file: %w", err)
	}
	cleanup = false
	return nil
}
