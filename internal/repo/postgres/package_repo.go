package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPackageNotFound = errors.New("package not found")

type PackageRepo struct {
	pool *pgxpool.Pool
}

// PackageRecord is a fixed (credits, price) offer scoped to one reseller.
// Payments copy these terms at creation time, so later edits to a package
// never drift under a completed purchase.
type PackageRecord struct {
	ID         int64
	ResellerID int64
	Credits    int
	PriceCents int
	Active     bool
	CreatedAt  time.Time
}

func NewPackageRepo(pool *pgxpool.Pool) *PackageRepo {
	return &PackageRepo{pool: pool}
}

func (r *PackageRepo) FindByID(ctx context.Context, packageID int64) (PackageRecord, error) {
	if r.pool == nil {
		return PackageRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if packageID <= 0 {
		return PackageRecord{}, fmt.Errorf("invalid package id")
	}

	record, err := scanPackage(r.pool.QueryRow(ctx, `
SELECT id, reseller_id, credits, price_cents, active, created_at
FROM packages
WHERE id = $1
LIMIT 1
`, packageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PackageRecord{}, ErrPackageNotFound
		}
		return PackageRecord{}, fmt.Errorf("find package by id: %w", err)
	}

	return record, nil
}

func (r *PackageRepo) ListByReseller(ctx context.Context, resellerID int64) ([]PackageRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if resellerID <= 0 {
		return nil, fmt.Errorf("invalid reseller id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, reseller_id, credits, price_cents, active, created_at
FROM packages
WHERE reseller_id = $1
  AND active
ORDER BY credits
`, resellerID)
	if err != nil {
		return nil, fmt.Errorf("list packages by reseller: %w", err)
	}
	defer rows.Close()

	var records []PackageRecord
	for rows.Next() {
		record, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate package rows: %w", err)
	}

	return records, nil
}

func scanPackage(row pgx.Row) (PackageRecord, error) {
	var record PackageRecord
	if err := row.Scan(
		&record.ID,
		&record.ResellerID,
		&record.Credits,
		&record.PriceCents,
		&record.Active,
		&record.CreatedAt,
	); err != nil {
		return PackageRecord{}, err
	}
	return record, nil
}
