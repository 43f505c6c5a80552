package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/serverlessd/internal/domain"
)

// PostgresFunctionStore is the durable function registry.
type PostgresFunctionStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresFunctionStore) Create(ctx context.Context, fn *domain.Function) error {
	now := time.Now()
	fn.CreatedAt = now
	fn.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO functions (name, language, code, timeout_s, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, fn.Name, fn.Language, fn.Code, fn.TimeoutS, fn.CreatedAt, fn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create function: %w", err)
	}
	return nil
}

func (s *PostgresFunctionStore) Get(ctx context.Context, name string) (*domain.Function, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, language, code, timeout_s, created_at, updated_at
		FROM functions WHERE name = $1
	`, name)

	fn := &domain.Function{}
	err := row.Scan(&fn.Name, &fn.Language, &fn.Code, &fn.TimeoutS, &fn.CreatedAt, &fn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get function %q: %w", name, err)
	}
	return fn, nil
}

func (s *PostgresFunctionStore) List(ctx context.Context) ([]*domain.Function, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, language, code, timeout_s, created_at, updated_at
		FROM functions ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Function
	for rows.Next() {
		fn := &domain.Function{}
		if err := rows.Scan(&fn.Name, &fn.Language, &fn.Code, &fn.TimeoutS, &fn.CreatedAt, &fn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

func (s *PostgresFunctionStore) Update(ctx context.Context, fn *domain.Function) error {
	fn.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE functions SET language = $2, code = $3, timeout_s = $4, updated_at = $5
		WHERE name = $1
	`, fn.Name, fn.Language, fn.Code, fn.TimeoutS, fn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update function %q: %w", fn.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresFunctionStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM functions WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete function %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
