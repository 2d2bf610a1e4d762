package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/storage"
)

const originalName = "index"

// ImageService orchestrates image ingestion, cropping and retrieval.
type ImageService struct {
	images   domain.ImageRepository
	root     *storage.Root
	fetcher  domain.Fetcher
	geometry domain.Geometry

	cropLimit int
	claims    *claimSet
}

// NewImageService creates a new ImageService.
func NewImageService(images domain.ImageRepository, root *storage.Root, fetcher domain.Fetcher, geometry domain.Geometry) *ImageService {
	return &ImageService{
		images:   images,
		root:     root,
		fetcher:  fetcher,
		geometry: geometry,
		claims:   newClaimSet(),
	}
}

// WithCropConcurrency caps the number of tiles written at once.
// Zero or less writes every tile concurrently.
func (s *ImageService) WithCropConcurrency(n int) *ImageService {
	s.cropLimit = n
	return s
}

// SetRoot replaces the storage root. Existing image directories stay where they are.
func (s *ImageService) SetRoot(dir string) error {
	return s.root.Set(dir)
}

// LoadImage fetches url, stores it as index.<ext> in a fresh image directory,
// measures it and records its metadata. Any failure aborts the whole load;
// a directory created before the failure is left on disk.
func (s *ImageService) LoadImage(ctx context.Context, url string, params domain.CropParams) (*domain.Image, error) {
	if _, err := s.root.Dir(); err != nil {
		return nil, err
	}

	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	fetched, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	dir, err := s.root.Allocate(fetched.BaseName)
	if err != nil {
		return nil, fmt.Errorf("allocate directory: %w", err)
	}

	original := filepath.Join(dir, originalName+"."+fetched.Ext)
	if err := os.WriteFile(original, fetched.Body, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write original: %w", domain.ErrIO, err)
	}

	size, err := s.geometry.Measure(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("measure image: %w", err)
	}

	sum := blake2b.Sum256(fetched.Body)
	image := &domain.Image{
		Path:       dir,
		Ext:        fetched.Ext,
		Size:       size,
		CropParams: params,
		SourceURL:  fetched.URL,
		Checksum:   hex.EncodeToString(sum[:]),
	}
	if err := s.images.Create(ctx, image); err != nil {
		return nil, fmt.Errorf("create image record: %w", err)
	}

	slog.Info("image loaded",
		"id", image.ID,
		"path", image.Path,
		"ext", image.Ext,
		"width", size.Width,
		"height", size.Height,
		"pieces", params.Pieces)
	return image, nil
}

// GetImageInfo returns the record for id, or ErrNotFound.
func (s *ImageService) GetImageInfo(ctx context.Context, id string) (*domain.Image, error) {
	return s.images.GetByID(ctx, id)
}

// ListImages returns every record.
func (s *ImageService) ListImages(ctx context.Context) ([]domain.Image, error) {
	return s.images.List(ctx)
}

// MeasureDimensions probes the width and height of an image file.
func (s *ImageService) MeasureDimensions(ctx context.Context, file string) (domain.Size, error) {
	if _, err := s.root.Dir(); err != nil {
		return domain.Size{}, err
	}
	return s.geometry.Measure(ctx, file)
}

// ReadOriginal returns the bytes of the original image.
func (s *ImageService) ReadOriginal(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.root.Dir(); err != nil {
		return nil, err
	}

	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return readFile(filepath.Join(image.Path, originalName+"."+image.Ext))
}

// ReadTile returns the bytes of piece n, counted from 1.
func (s *ImageService) ReadTile(ctx context.Context, id string, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: piece number must be a positive integer", domain.ErrInvalidInput)
	}

	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !image.Cropped {
		return nil, fmt.Errorf("%w: image has not been cropped yet", domain.ErrInvalidInput)
	}
	if n > image.CropParams.Pieces {
		return nil, fmt.Errorf("%w: only %d pieces", domain.ErrOutOfRange, image.CropParams.Pieces)
	}
	return readFile(filepath.Join(image.Path, tileName(n-1, image.Ext)))
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrIO, path, err)
	}
	return data, nil
}
