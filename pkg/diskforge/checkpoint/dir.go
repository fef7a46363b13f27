package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileExt is the extension of checkpoint files in a DirStore.
const FileExt = ".checkpoint"

// DirStore keeps one JSON file per checkpoint in a directory. Writes go to a
// temporary file that is synced and renamed into place, so a crash leaves
// either the old record or the new one, never a torn file.
type DirStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewDirStore creates the directory if needed and returns a store over it.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (d *DirStore) Dir() string {
	return d.dir
}

func (d *DirStore) path(id string) string {
	return filepath.Join(d.dir, id+FileExt)
}

// Save implements Store.
func (d *DirStore) Save(id string, data []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrStoreClosed
	}

	tmp, err := os.CreateTemp(d.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("save checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("save checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save checkpoint: close: %w", err)
	}
	if err := os.Rename(tmpName, d.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save checkpoint: rename: %w", err)
	}

	syncDir(d.dir)
	return nil
}

// syncDir persists the rename. Not every platform can fsync a directory;
// failures are ignored.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	f.Close()
}

// Load implements Store.
func (d *DirStore) Load(id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, ErrNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store. Timestamps are file modification times.
func (d *DirStore) List() ([]Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := []Info{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, FileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		infos = append(infos, Info{
			ID:        strings.TrimSuffix(name, FileExt),
			Timestamp: fi.ModTime().UTC(),
			Size:      fi.Size(),
		})
	}
	sortInfos(infos)
	return infos, nil
}

// Delete implements Store.
func (d *DirStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrStoreClosed
	}

	err := os.Remove(d.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (d *DirStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}
