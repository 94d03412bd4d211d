// Package storage stages uploaded input artifacts so the Transform Service
// can fetch them by URL, and keeps result artifacts addressable. The
// ObjectStore interface is the narrow contract the services depend on; the
// disk implementation serves a single-node deployment where the HTTP server
// exposes the storage directory under a public base URL.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore stages artifact bytes and returns a URL the Transform Service
// can fetch.
type ObjectStore interface {
	// Put writes the artifact and returns its public URL. name is advisory;
	// implementations must not trust it for pathing.
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// DiskStore writes artifacts under a local directory served at PublicBaseURL.
type DiskStore struct {
	Dir           string
	PublicBaseURL string
}

// NewDiskStore creates the backing directory if needed.
func NewDiskStore(dir, publicBaseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &DiskStore{Dir: dir, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Put stores data under a random name, keeping only the original extension.
// The upload's claimed filename never reaches the filesystem path.
func (s *DiskStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := sanitizeExt(filepath.Ext(name))
	stored := uuid.NewString() + ext
	path := filepath.Join(s.Dir, stored)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("staging artifact: %w", err)
	}
	return s.PublicBaseURL + "/" + stored, nil
}

// sanitizeExt keeps short, alphanumeric extensions and drops anything else.
func sanitizeExt(ext string) string {
	if len(ext) == 0 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return ""
		}
	}
	return strings.ToLower(ext)
}
