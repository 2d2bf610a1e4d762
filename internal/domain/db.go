package domain

import "context"

// Database defines lifecycle operations for the metadata backend.
// Each implementation (SQLite, MongoDB) owns its own schema setup,
// so the store can be swapped without touching the service layer.
type Database interface {
	Migrate(ctx context.Context) error
	Close() error
	Images() ImageRepository
}
