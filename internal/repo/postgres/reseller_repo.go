package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrResellerNotFound = errors.New("reseller not found")

type ResellerRepo struct {
	pool *pgxpool.Pool
}

// ResellerRecord maps a platform customer to its account on exactly one
// remote panel. ExternalID is the panel's own key for that account and is
// opaque here (some vendors use numeric ids, some usernames).
type ResellerRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	ExternalID   string
	PanelID      int64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewResellerRepo(pool *pgxpool.Pool) *ResellerRepo {
	return &ResellerRepo{pool: pool}
}

func (r *ResellerRepo) FindByID(ctx context.Context, resellerID int64) (ResellerRecord, error) {
	if r.pool == nil {
		return ResellerRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if resellerID <= 0 {
		return ResellerRecord{}, fmt.Errorf("invalid reseller id")
	}

	record, err := scanReseller(r.pool.QueryRow(ctx, `
SELECT id, username, password_hash, role, external_id, panel_id, status, created_at, updated_at
FROM resellers
WHERE id = $1
LIMIT 1
`, resellerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResellerRecord{}, ErrResellerNotFound
		}
		return ResellerRecord{}, fmt.Errorf("find reseller by id: %w", err)
	}

	return record, nil
}

func (r *ResellerRepo) FindByUsername(ctx context.Context, username string) (ResellerRecord, error) {
	if r.pool == nil {
		return ResellerRecord{}, fmt.Errorf("postgres pool is nil")
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return ResellerRecord{}, fmt.Errorf("username is required")
	}

	record, err := scanReseller(r.pool.QueryRow(ctx, `
SELECT id, username, password_hash, role, external_id, panel_id, status, created_at, updated_at
FROM resellers
WHERE LOWER(username) = $1
LIMIT 1
`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResellerRecord{}, ErrResellerNotFound
		}
		return ResellerRecord{}, fmt.Errorf("find reseller by username: %w", err)
	}

	return record, nil
}

func scanReseller(row pgx.Row) (ResellerRecord, error) {
	var record ResellerRecord
	if err := row.Scan(
		&record.ID,
		&record.Username,
		&record.PasswordHash,
		&record.Role,
		&record.ExternalID,
		&record.PanelID,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return ResellerRecord{}, err
	}
	return record, nil
}
