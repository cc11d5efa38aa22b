// Package units manages the units of measure reference data.
package units

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

// Unit is a unit of measure, such as piece or kilogram.
type Unit struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Repository persists units.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a unit; the name is unique.
func (r *Repository) Create(ctx context.Context, name, abbreviation string) (Unit, error) {
	u := Unit{Name: name, Abbreviation: abbreviation}
	err := r.pool.QueryRow(ctx, `INSERT INTO units (name, abbreviation, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING id, created_at, updated_at`, name, abbreviation).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return Unit{}, mapError(err)
	}
	return u, nil
}

// Update modifies a unit.
func (r *Repository) Update(ctx context.Context, id int64, name, abbreviation string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE units SET name = $2, abbreviation = $3, updated_at = NOW() WHERE id = $1`,
		id, name, abbreviation)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
	}
	return nil
}

// Delete removes a unit. Units referenced by products cannot be deleted.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
	}
	return nil
}

// Get fetches one unit.
func (r *Repository) Get(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, name, abbreviation, created_at, updated_at FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Abbreviation, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
	}
	return u, err
}

// List returns all units ordered by name.
func (r *Repository) List(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, abbreviation, created_at, updated_at FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Abbreviation, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: unit name already exists", shared.ErrConflict)
		case "23503":
			return fmt.Errorf("%w: unit is referenced by products", shared.ErrConflict)
		}
	}
	return err
}
