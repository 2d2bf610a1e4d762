package mongostore

import "context"

// DropDatabase removes the database behind db.
func (d *DB) DropDatabase(ctx context.Context) error {
	return d.images.Database().Drop(ctx)
}
