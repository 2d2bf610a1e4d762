package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/storage"
)

// ProgressFunc is called once per written tile with the running count.
// Calls are serialized.
type ProgressFunc func(written, total int)

// TileRect returns the region of tile index when an image of the given size
// is split into pieces vertical strips. Strip edges are floored, so widths
// differ by at most one pixel and the strips cover the full width.
func TileRect(index, pieces, width, height int) image.Rectangle {
	return image.Rect(index*width/pieces, 0, (index+1)*width/pieces, height)
}

func tileName(index int, ext string) string {
	return strconv.Itoa(index) + "." + ext
}

// Crop splits the image into its configured number of tiles and marks it cropped.
func (s *ImageService) Crop(ctx context.Context, id string) (*domain.Image, error) {
	return s.CropWithProgress(ctx, id, nil)
}

// CropWithProgress is Crop with a per-tile progress callback.
//
// Tiles are written concurrently into a scratch directory and moved next to
// the original only once every tile succeeded. If any tile fails, or a move
// fails, no tile is left beside the original and the record stays uncropped.
func (s *ImageService) CropWithProgress(ctx context.Context, id string, progress ProgressFunc) (*domain.Image, error) {
	if _, err := s.root.Dir(); err != nil {
		return nil, err
	}

	img, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}

	pieces, width, height := img.CropParams.Pieces, img.Size.Width, img.Size.Height
	if pieces < 1 {
		return nil, fmt.Errorf("%w: image has no crop parameters", domain.ErrInvalidInput)
	}
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: image has no recorded size", domain.ErrInvalidInput)
	}
	if pieces > width {
		return nil, fmt.Errorf("%w: %d pieces exceed image width %d", domain.ErrInvalidInput, pieces, width)
	}

	if !s.claims.acquire(img.ID) {
		return nil, domain.ErrAlreadyInProgress
	}
	defer s.claims.release(img.ID)

	if img.CropParams.Direction == domain.DirectionVertical {
		slog.Warn("vertical cropping is not supported, splitting horizontally", "id", img.ID)
	}

	scratch, err := os.MkdirTemp(img.Path, storage.TempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch directory: %w", domain.ErrIO, err)
	}
	defer os.RemoveAll(scratch)

	if err := s.writeTiles(ctx, img, scratch, progress); err != nil {
		slog.Error("crop failed", "id", img.ID, "error", err)
		return nil, err
	}

	if err := moveTiles(scratch, img.Path, pieces, img.Ext); err != nil {
		slog.Error("crop failed", "id", img.ID, "error", err)
		return nil, err
	}

	modified, err := s.images.MarkCropped(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("mark cropped: %w", err)
	}
	if !modified {
		return nil, fmt.Errorf("%w: image %s vanished during crop", domain.ErrNotFound, img.ID)
	}
	img.Cropped = true

	slog.Info("image cropped", "id", img.ID, "pieces", pieces, "path", img.Path)
	return img, nil
}

// moveTiles renames every tile from scratch into dir. When one rename fails
// the tiles already moved are renamed back.
func moveTiles(scratch, dir string, pieces int, ext string) error {
	for i := range pieces {
		name := tileName(i, ext)
		if err := os.Rename(filepath.Join(scratch, name), filepath.Join(dir, name)); err != nil {
			for j := range i {
				back := tileName(j, ext)
				if rerr := os.Rename(filepath.Join(dir, back), filepath.Join(scratch, back)); rerr != nil {
					slog.Warn("restore tile", "tile", back, "error", rerr)
				}
			}
			return fmt.Errorf("%w: move tile %d: %w", domain.ErrIO, i, err)
		}
	}
	return nil
}

// writeTiles crops every tile of img into dir. It returns the first failure
// after all started crops have finished.
func (s *ImageService) writeTiles(ctx context.Context, img *domain.Image, dir string, progress ProgressFunc) error {
	src := filepath.Join(img.Path, originalName+"."+img.Ext)
	pieces := img.CropParams.Pieces

	var (
		mu      sync.Mutex
		written int
	)
	report := func() {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		written++
		progress(written, pieces)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cropLimit > 0 {
		g.SetLimit(s.cropLimit)
	}
	for i := range pieces {
		rect := TileRect(i, pieces, img.Size.Width, img.Size.Height)
		dst := filepath.Join(dir, tileName(i, img.Ext))
		g.Go(func() error {
			if err := s.geometry.Crop(gctx, src, dst, rect); err != nil {
				return fmt.Errorf("piece %d: %w", i, err)
			}
			report()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrCrop) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrCrop, err)
	}
	return nil
}
