package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/msomdec/tilecrop/internal/domain"
)

// imageRepo implements domain.ImageRepository using SQLite.
type imageRepo struct {
	db *sql.DB
}

const imageColumns = `id, path, ext, width, height, pieces, direction, cropped, source_url, checksum, created_at`

func (r *imageRepo) Create(ctx context.Context, image *domain.Image) error {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id, image.Path, image.Ext, image.Size.Width, image.Size.Height,
		image.CropParams.Pieces, string(image.CropParams.Direction),
		image.SourceURL, image.Checksum, now,
	)
	if err != nil {
		return fmt.Errorf("%w: insert image: %w", domain.ErrStore, err)
	}

	image.ID = id
	image.Cropped = false
	image.CreatedAt = now
	return nil
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	img, err := scanImage(r.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get image: %w", domain.ErrStore, err)
	}
	return img, nil
}

func (r *imageRepo) List(ctx context.Context) ([]domain.Image, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan image: %w", domain.ErrStore, err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list images: %w", domain.ErrStore, err)
	}
	return images, nil
}

func (r *imageRepo) MarkCropped(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, "UPDATE images SET cropped = 1 WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("%w: mark cropped: %w", domain.ErrStore, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", domain.ErrStore, err)
	}
	return rows > 0, nil
}

// validateID rejects ids that could never have been issued by Create.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: image id is required", domain.ErrInvalidInput)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: malformed image id %q", domain.ErrInvalidInput, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*domain.Image, error) {
	var (
		img       domain.Image
		direction string
	)
	if err := row.Scan(&img.ID, &img.Path, &img.Ext, &img.Size.Width, &img.Size.Height,
		&img.CropParams.Pieces, &direction, &img.Cropped, &img.SourceURL, &img.Checksum,
		&img.CreatedAt); err != nil {
		return nil, err
	}
	img.CropParams.Direction = domain.Direction(direction)
	return &img, nil
}
