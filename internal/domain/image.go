package domain

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Direction is the axis along which an image is split into pieces.
type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	// DirectionVertical is accepted in records but the cropper always
	// splits horizontally.
	DirectionVertical Direction = "vertical"
)

// Size is the pixel dimensions of an original image.
type Size struct {
	Width  int
	Height int
}

// CropParams describes how an image is partitioned into tiles.
type CropParams struct {
	Pieces    int
	Direction Direction
}

// Normalize fills in the default direction.
func (p CropParams) Normalize() CropParams {
	if p.Direction == "" {
		p.Direction = DirectionHorizontal
	}
	return p
}

// Validate checks the piece count and direction.
func (p CropParams) Validate() error {
	if p.Pieces < 1 {
		return fmt.Errorf("%w: pieces must be a positive integer", ErrInvalidInput)
	}
	switch p.Direction {
	case DirectionHorizontal, DirectionVertical:
		return nil
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, p.Direction)
	}
}

// Image is the persisted metadata for one ingested image. The original
// file lives at Path/index.<Ext>; tiles at Path/<0..Pieces-1>.<Ext>.
type Image struct {
	ID         string
	Path       string
	Ext        string
	Size       Size
	CropParams CropParams
	Cropped    bool
	SourceURL  string // Final URL the bytes were fetched from
	Checksum   string // BLAKE2b-256 of the original bytes, hex encoded
	CreatedAt  time.Time
}

// ImageRepository handles image metadata persistence.
type ImageRepository interface {
	// Create stores a new record with Cropped=false and sets its ID and CreatedAt.
	Create(ctx context.Context, image *Image) error
	// GetByID returns ErrNotFound when no record matches and ErrInvalidInput
	// when id is empty or malformed for the backend.
	GetByID(ctx context.Context, id string) (*Image, error)
	List(ctx context.Context) ([]Image, error)
	// MarkCropped sets cropped=true and reports whether a record matched id.
	MarkCropped(ctx context.Context, id string) (bool, error)
}

// Geometry measures and crops image files.
type Geometry interface {
	Measure(ctx context.Context, file string) (Size, error)
	// Crop writes the rect region of src to dst, encoded in the format
	// implied by dst's extension.
	Crop(ctx context.Context, src, dst string, rect image.Rectangle) error
}

// Fetched is a remote image body together with what was learned about it.
type Fetched struct {
	Body     []byte
	Ext      string // Lowercase extension sniffed from the body
	BaseName string // URL path basename without extension
	URL      string // Final URL after redirects
}

// Fetcher retrieves remote image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Fetched, error)
}
