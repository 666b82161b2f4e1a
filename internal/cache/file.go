package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileStore keeps one blob per key as a file under dir. Writes go to a temp file
// that is renamed into place, so a reader sees the old blob or the new one.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func (f *fileStore) put(ctx context.Context, key string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".forecast-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *fileStore) get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return blob, nil
}

// FileCache implements ForecastCache as a single JSON file. The key is not part
// of the path: one file holds the one saved forecast.
type FileCache struct {
	*blobCache
	path string
}

// NewFileCache returns a FileCache writing to path. Parent directories are created
// on first save.
func NewFileCache(path string) *FileCache {
	return &FileCache{
		blobCache: newBlobCache("file", DefaultKey, &fileStore{path: path}),
		path:      path,
	}
}

// Path returns the file backing the cache.
func (c *FileCache) Path() string {
	return c.path
}
