// store.go - PayloadStore: whole-file replacement of allowlisted payloads.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoredFile describes a payload after it was committed to disk.
type StoredFile struct {
	Name    string
	Path    string
	Size    int64
	SHA256  string
	ModTime time.Time
}

// PayloadStore writes validated payloads under a single data directory.
// Saves to the same name are serialized; saves to different names run
// concurrently.
type PayloadStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPayloadStore returns a store rooted at dir. The directory is created
// lazily by the first Store call.
func NewPayloadStore(dir string) *PayloadStore {
	return &PayloadStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Dir returns the data directory.
func (s *PayloadStore) Dir() string {
	return s.dir
}

// lockFor returns the mutex guarding name. Entries are never removed: the
// allowlist bounds the map size.
func (s *PayloadStore) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// ensureDir creates the data directory itself (not its parents). An
// existing directory is fine; an existing non-directory is an error.
func (s *PayloadStore) ensureDir() error {
	err := os.Mkdir(s.dir, 0o755)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		fi, statErr := os.Stat(s.dir)
		if statErr != nil {
			return statErr
		}
		if !fi.IsDir() {
			return fmt.Errorf("data dir %s is not a directory", s.dir)
		}
		return nil
	}
	return err
}

// Store replaces <dir>/<name> with content. The bytes are written to a
// temporary sibling, synced and closed, then renamed over the target, so a
// reader sees either the old file or the complete new one. On error the
// temporary file is removed.
func (s *PayloadStore) Store(ctx context.Context, name ValidatedName, content string) (StoredFile, error) {
	if name.IsZero() {
		return StoredFile{}, errors.New("store: unvalidated file name")
	}
	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}

	l := s.lockFor(name.String())
	l.Lock()
	defer l.Unlock()

	if err := s.ensureDir(); err != nil {
		return StoredFile{}, fmt.Errorf("create data dir: %w", err)
	}

	target := filepath.Join(s.dir, name.String())

	tmp, err := os.CreateTemp(s.dir, "."+name.String()+".tmp-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return StoredFile{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return StoredFile{}, fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return StoredFile{}, fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return StoredFile{}, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return StoredFile{}, fmt.Errorf("replace %s: %w", name, err)
	}
	committed = true

	fi, err := os.Stat(target)
	if err != nil {
		return StoredFile{}, fmt.Errorf("stat %s: %w", name, err)
	}

	sum := sha256.Sum256([]byte(content))
	return StoredFile{
		Name:    name.String(),
		Path:    target,
		Size:    fi.Size(),
		SHA256:  hex.EncodeToString(sum[:]),
		ModTime: fi.ModTime(),
	}, nil
}

// Read returns the committed content of name.
func (s *PayloadStore) Read(name ValidatedName) (string, error) {
	if name.IsZero() {
		return "", errors.New("store: unvalidated file name")
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name.String()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// errDataDirMissing means no save has created the data directory yet.
var errDataDirMissing = errors.New("data dir not created yet")

// CheckWritable verifies the data directory accepts new files without
// creating it. Used by the health endpoint.
func (s *PayloadStore) CheckWritable() error {
	fi, err := os.Stat(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return errDataDirMissing
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", s.dir)
	}
	f, err := os.CreateTemp(s.dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
