package filestore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/param-go/param/pkg/param"
)

// DiskStore stores file contents on the local filesystem.
type DiskStore struct {
	dir     string
	maxSize int64

	mu    sync.RWMutex
	files map[string]*diskMeta
}

type diskMeta struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDiskStore creates a new DiskStore.
//
// Parameters:
//   - dir: Directory to store files
//   - maxSize: Maximum file size in bytes (0 = no limit)
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &DiskStore{
		dir:     dir,
		maxSize: maxSize,
		files:   make(map[string]*diskMeta),
	}, nil
}

// Put stores content and returns its file reference.
func (s *DiskStore) Put(filename, contentType string, size int64, r io.Reader) (param.FileValue, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return param.FileValue{}, ErrTooLarge
	}

	key := generateKey()
	path := filepath.Join(s.dir, key)

	f, err := os.Create(path)
	if err != nil {
		return param.FileValue{}, err
	}
	defer f.Close()

	var reader io.Reader = r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1) // +1 to detect overflow
	}

	written, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(path)
		return param.FileValue{}, err
	}

	if s.maxSize > 0 && written > s.maxSize {
		os.Remove(path)
		return param.FileValue{}, ErrTooLarge
	}

	meta := &diskMeta{
		Filename:    filename,
		ContentType: contentType,
		Size:        written,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.files[key] = meta
	s.mu.Unlock()

	// Metadata sidecar survives process restarts.
	s.saveMeta(key, meta)

	return param.FileValue{Key: key, Name: filename, Size: written}, nil
}

// Open retrieves a stored file by key. The file stays in the store until
// Delete or Cleanup removes it; a reference value can be opened repeatedly.
func (s *DiskStore) Open(key string) (*File, error) {
	s.mu.RLock()
	meta, ok := s.files[key]
	s.mu.RUnlock()

	// Try loading from disk if not in memory
	if !ok {
		var err error
		meta, err = s.loadMeta(key)
		if err != nil {
			return nil, ErrNotFound
		}
	}

	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &File{
		Value:       param.FileValue{Key: key, Name: meta.Filename, Size: meta.Size},
		ContentType: meta.ContentType,
		Path:        path,
		Reader:      f,
	}, nil
}

// Delete removes a stored file and its metadata.
func (s *DiskStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.files, key)
	s.mu.Unlock()

	os.Remove(filepath.Join(s.dir, key))
	os.Remove(s.metaPath(key))
	return nil
}

// Cleanup removes files older than maxAge.
func (s *DiskStore) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, meta := range s.files {
		if meta.CreatedAt.Before(cutoff) {
			delete(s.files, key)
			os.Remove(filepath.Join(s.dir, key))
			os.Remove(s.metaPath(key))
		}
	}

	// Also scan the directory for orphaned files
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}

	return nil
}

func (s *DiskStore) metaPath(key string) string {
	return filepath.Join(s.dir, key+".meta")
}

func (s *DiskStore) saveMeta(key string, meta *diskMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(key), data, 0644)
}

func (s *DiskStore) loadMeta(key string) (*diskMeta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return nil, err
	}
	var meta diskMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// generateKey generates a cryptographically random reference key.
func generateKey() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
