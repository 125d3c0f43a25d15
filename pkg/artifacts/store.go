// Package artifacts stores derived per-notebook files on the local
// filesystem: one directory per notebook UUID holding the word cloud image
// and its clickable region map.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	ImageFile = "wordcloud.png"
	MapFile   = "wordcloud.map"
)

// Paths locates a notebook's artifacts.
type Paths struct {
	Dir   string `json:"-"`
	Image string `json:"image"`
	Map   string `json:"map"`
	// GeneratedAt is the older of the two files' modification times.
	GeneratedAt time.Time `json:"generated_at"`
}

// Store is a directory of per-notebook artifact directories.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Paths returns where a notebook's artifacts live, whether or not they exist.
func (s *Store) Paths(id uuid.UUID) Paths {
	dir := filepath.Join(s.root, id.String())
	return Paths{
		Dir:   dir,
		Image: filepath.Join(dir, ImageFile),
		Map:   filepath.Join(dir, MapFile),
	}
}

// Stat reports whether both artifacts exist and when they were generated.
// A half-present pair counts as missing.
func (s *Store) Stat(id uuid.UUID) (Paths, bool, error) {
	p := s.Paths(id)
	var oldest time.Time
	for _, f := range []string{p.Image, p.Map} {
		info, err := os.Stat(f)
		if errors.Is(err, fs.ErrNotExist) {
			return p, false, nil
		}
		if err != nil {
			return p, false, fmt.Errorf("failed to stat artifact: %w", err)
		}
		if oldest.IsZero() || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	p.GeneratedAt = oldest
	return p, true, nil
}

// Publish writes both artifacts into a temporary directory and renames it
// into place, so readers see either the previous pair or the new one.
func (s *Store) Publish(id uuid.UUID, image, imageMap []byte) (Paths, error) {
	p := s.Paths(id)

	tmp, err := os.MkdirTemp(s.root, "."+id.String()+".tmp-")
	if err != nil {
		return p, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := os.WriteFile(filepath.Join(tmp, ImageFile), image, 0o644); err != nil {
		return p, fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, MapFile), imageMap, 0o644); err != nil {
		return p, fmt.Errorf("failed to write image map: %w", err)
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return p, fmt.Errorf("failed to set artifact permissions: %w", err)
	}

	// A directory cannot be renamed over a non-empty one, so the previous
	// generation is moved aside first.
	var old string
	if _, err := os.Stat(p.Dir); err == nil {
		old = tmp + ".old"
		if err := os.Rename(p.Dir, old); err != nil {
			return p, fmt.Errorf("failed to retire previous artifacts: %w", err)
		}
	}
	if err := os.Rename(tmp, p.Dir); err != nil {
		if old != "" {
			_ = os.Rename(old, p.Dir)
		}
		return p, fmt.Errorf("failed to publish artifacts: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}

	published, ok, err := s.Stat(id)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("published artifacts for %s disappeared", id)
	}
	return published, nil
}

// Remove deletes a notebook's artifacts. Missing files are not an error.
func (s *Store) Remove(id uuid.UUID) error {
	if err := os.RemoveAll(s.Paths(id).Dir); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}
	return nil
}
