// Package locations manages stock locations such as shops and warehouses.
package locations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Location is a physical place stock can sit: a shop floor, a warehouse, a
// back room.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists locations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a location; the name is unique.
func (r *Repository) Create(ctx context.Context, name, address string) (Location, error) {
	l := Location{Name: name, Address: address, IsActive: true}
	err := r.pool.QueryRow(ctx, `INSERT INTO locations (name, address, is_active, created_at, updated_at)
VALUES ($1, $2, TRUE, NOW(), NOW()) RETURNING id, created_at, updated_at`, name, address).
		Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Location{}, mapError(err)
	}
	return l, nil
}

// Update modifies a location, including deactivation. Deactivated locations
// keep their ledger history but should not take new movements.
func (r *Repository) Update(ctx context.Context, id int64, name, address string, isActive bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE locations SET name = $2, address = $3, is_active = $4, updated_at = NOW() WHERE id = $1`,
		id, name, address, isActive)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: location %d", shared.ErrNotFound, id)
	}
	return nil
}

// Delete removes a location. Locations with ledger history cannot be
// deleted; deactivate them instead.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: location %d", shared.ErrNotFound, id)
	}
	return nil
}

// Get fetches one location.
func (r *Repository) Get(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(address, ''), is_active, created_at, updated_at FROM locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.Address, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, fmt.Errorf("%w: location %d", shared.ErrNotFound, id)
	}
	return l, err
}

// List returns all locations ordered by name.
func (r *Repository) List(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(address, ''), is_active, created_at, updated_at FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Address, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: location name already exists", shared.ErrConflict)
		case "23503":
			return fmt.Errorf("%w: location has ledger history", shared.ErrConflict)
		}
	}
	return err
}
