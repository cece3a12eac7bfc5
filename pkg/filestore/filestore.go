package filestore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/param-go/param/pkg/param"
)

// ErrNotFound is returned when a stored file doesn't exist.
var ErrNotFound = errors.New("filestore: file not found")

// ErrTooLarge is returned when a file exceeds the size limit.
var ErrTooLarge = errors.New("filestore: file too large")

// Store is the interface for the content backing file reference attributes.
// A file reference value names a stored object but never embeds its bytes;
// the store is where those bytes live.
type Store interface {
	// Put stores content and returns the file reference value to assign
	// to an attribute.
	Put(filename string, contentType string, size int64, r io.Reader) (param.FileValue, error)

	// Open retrieves a stored file by its reference key.
	Open(key string) (*File, error)

	// Delete removes a stored file. Removing a missing key is not an error.
	Delete(key string) error

	// Cleanup removes stored files older than maxAge.
	// Call this periodically (e.g., every 5 minutes).
	Cleanup(maxAge time.Duration) error
}

// File is an opened stored file.
type File struct {
	// Value is the reference that named this file.
	Value param.FileValue

	// ContentType is the MIME type recorded at upload.
	ContentType string

	// Path is the local filesystem path (for DiskStore).
	Path string

	// URL is the remote URL (for S3/CDN storage).
	URL string

	// Reader provides access to the file contents.
	// May be nil if the file is stored on disk (use Path instead).
	Reader io.ReadCloser
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

// Config holds configuration for the upload handler.
type Config struct {
	// MaxFileSize is the maximum allowed upload size in bytes.
	// Default: 10MB.
	MaxFileSize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 10 * 1024 * 1024,
	}
}

// Handler returns an http.Handler for uploads destined for file reference
// attributes. Mount it on your router: r.Post("/upload", filestore.Handler(store))
//
// The handler expects a multipart form with a "file" field and returns the
// stored reference as JSON:
//
//	{"key": "ab12...", "name": "data.csv", "size": 1024}
func Handler(store Store) http.Handler {
	return HandlerWithConfig(store, DefaultConfig())
}

// HandlerWithConfig returns an upload handler with custom configuration.
func HandlerWithConfig(store Store, config *Config) http.Handler {
	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Limit request body size BEFORE parsing to prevent DoS.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			if err.Error() == "http: request body too large" {
				http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "No file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		fv, err := store.Put(
			header.Filename,
			header.Header.Get("Content-Type"),
			header.Size,
			file,
		)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fv)
	})
}
