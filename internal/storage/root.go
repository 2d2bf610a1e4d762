package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msomdec/tilecrop/internal/domain"
)

// TempPrefix marks per-crop scratch directories inside an image directory.
const TempPrefix = ".crop-"

// Root is the base directory under which every image directory is allocated.
// It is safe for concurrent use.
type Root struct {
	mu       sync.Mutex
	dir      string
	now      func() time.Time
	lastMark int64 // last millisecond stamp issued by Allocate
}

// NewRoot returns an unconfigured Root. Call Set before any other operation.
func NewRoot() *Root {
	return &Root{now: time.Now}
}

// Open returns a Root already set to dir.
func Open(dir string) (*Root, error) {
	r := NewRoot()
	if err := r.Set(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// Set validates dir, creates it if missing and makes it the active root.
// Previously allocated directories are not moved.
func (r *Root) Set(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: root directory name is empty", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%w: resolve root %q: %w", domain.ErrIO, dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("%w: create root %q: %w", domain.ErrIO, abs, err)
	}

	r.mu.Lock()
	r.dir = abs
	r.mu.Unlock()
	return nil
}

// Dir returns the active root or ErrNotConfigured.
func (r *Root) Dir() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dir == "" {
		return "", domain.ErrNotConfigured
	}
	return r.dir, nil
}

// Allocate creates a fresh directory <root>/<name>_<millis> and returns its path.
// Stamps are strictly increasing within the process, and a stamp already taken
// on disk is skipped, so concurrent callers sharing a name never collide.
func (r *Root) Allocate(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid directory name %q", domain.ErrInvalidInput, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dir == "" {
		return "", domain.ErrNotConfigured
	}

	mark := max(r.now().UnixMilli(), r.lastMark+1)
	for {
		dir := filepath.Join(r.dir, name+"_"+strconv.FormatInt(mark, 10))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			r.lastMark = mark
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: create image directory: %w", domain.ErrIO, err)
		}
		mark++
	}
}

// Reconcile removes scratch directories abandoned by interrupted crops.
// It returns the number of directories removed.
func (r *Root) Reconcile() (int, error) {
	root, err := r.Dir()
	if err != nil {
		return 0, err
	}

	images, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("%w: read root: %w", domain.ErrIO, err)
	}

	removed := 0
	for _, img := range images {
		if !img.IsDir() {
			continue
		}
		imageDir := filepath.Join(root, img.Name())
		entries, err := os.ReadDir(imageDir)
		if err != nil {
			return removed, fmt.Errorf("%w: read %s: %w", domain.ErrIO, imageDir, err)
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), TempPrefix) {
				continue
			}
			scratch := filepath.Join(imageDir, e.Name())
			if err := os.RemoveAll(scratch); err != nil {
				return removed, fmt.Errorf("%w: remove %s: %w", domain.ErrIO, scratch, err)
			}
			slog.Info("removed abandoned crop directory", "path", scratch)
			removed++
		}
	}
	return removed, nil
}
