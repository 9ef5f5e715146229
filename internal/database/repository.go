package database

import (
	"context"
)

// Repository provides data access methods. Methods are split across
// repository_*.go files by table owner.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Conn.PingContext(ctx)
}

// GetDB returns the underlying DB instance.
func (r *Repository) GetDB() *DB {
	return r.db
}
