package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// Store hands out output targets named after the capture time.
type Store struct {
	Dir    string
	Layout string // Go time layout for file names
	Ext    string

	mu       sync.Mutex
	now      func() time.Time
	lastName string
	dupes    int
}

// NewStore creates a store writing into dir.
func NewStore(dir, layout, ext string) *Store {
	return &Store{Dir: dir, Layout: layout, Ext: ext, now: time.Now}
}

// NewTarget returns a target for the next photo. Names are unique within the
// store even when two photos share a timestamp.
func (s *Store) NewTarget() (camera.OutputTarget, error) {
	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	name := now().Format(s.Layout)
	base := name
	if name == s.lastName {
		s.dupes++
		base = fmt.Sprintf("%s-%d", name, s.dupes)
	} else {
		s.lastName, s.dupes = name, 0
	}

	path := filepath.Join(dir, base+s.Ext)
	debug.Verbose("Storage: next photo %s", path)
	return &FileTarget{Path: path}, nil
}

// FileTarget writes one photo to a file.
type FileTarget struct {
	Path string
}

// Create creates the parent directory and the file.
func (f *FileTarget) Create() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(f.Path)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return file, nil
}

// URI returns the file URI of the photo.
func (f *FileTarget) URI() string {
	return "file://" + filepath.ToSlash(f.Path)
}
