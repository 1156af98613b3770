package sqlite

import "context"

// ExecRaw runs a raw statement, used to simulate legacy schemas.
func (r *Repository) ExecRaw(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
