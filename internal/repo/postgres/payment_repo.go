package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrProviderRefConflict  = errors.New("provider ref already attached to another payment")
	ErrPaymentNotTransition = errors.New("payment is not in a state allowing this transition")
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

// PaymentRecord is one purchase attempt. Credits and PriceCents are copied
// from the package at creation time and never updated afterwards.
type PaymentRecord struct {
	ID          int64
	ResellerID  int64
	PackageID   int64
	Credits     int
	PriceCents  int
	ProviderRef string
	QRCode      string
	Status      enums.PaymentStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	PaidAt      *time.Time
	UpdatedAt   time.Time
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) Create(
	ctx context.Context,
	resellerID, packageID int64,
	credits, priceCents int,
	providerRef, qrCode string,
	expiresAt time.Time,
) (PaymentRecord, error) {
	if r.pool == nil {
		return PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if resellerID <= 0 || packageID <= 0 || credits <= 0 || priceCents <= 0 {
		return PaymentRecord{}, fmt.Errorf("invalid payment create payload")
	}
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return PaymentRecord{}, fmt.Errorf("provider ref is required")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
INSERT INTO payments (
	reseller_id,
	package_id,
	credits,
	price_cents,
	provider_ref,
	qr_code,
	status,
	created_at,
	expires_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW(), $7, NOW())
RETURNING id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
`, resellerID, packageID, credits, priceCents, providerRef, qrCode, expiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return PaymentRecord{}, ErrProviderRefConflict
		}
		return PaymentRecord{}, fmt.Errorf("create payment: %w", err)
	}

	return record, nil
}

func (r *PaymentRepo) FindByID(ctx context.Context, paymentID int64) (PaymentRecord, error) {
	if r.pool == nil {
		return PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if paymentID <= 0 {
		return PaymentRecord{}, fmt.Errorf("invalid payment id")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
FROM payments
WHERE id = $1
LIMIT 1
`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, ErrPaymentNotFound
		}
		return PaymentRecord{}, fmt.Errorf("find payment by id: %w", err)
	}

	return record, nil
}

func (r *PaymentRepo) FindByProviderRef(ctx context.Context, providerRef string) (PaymentRecord, error) {
	if r.pool == nil {
		return PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return PaymentRecord{}, fmt.Errorf("provider ref is required")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
FROM payments
WHERE provider_ref = $1
LIMIT 1
`, providerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, ErrPaymentNotFound
		}
		return PaymentRecord{}, fmt.Errorf("find payment by provider ref: %w", err)
	}

	return record, nil
}

// MarkPaid advances pending -> paid. Re-observing a settlement on a payment
// that already left pending is a no-op: the current record is returned with
// changed=false so callers can stay idempotent.
func (r *PaymentRepo) MarkPaid(ctx context.Context, paymentID int64, paidAt time.Time) (PaymentRecord, bool, error) {
	if r.pool == nil {
		return PaymentRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if paymentID <= 0 {
		return PaymentRecord{}, false, fmt.Errorf("invalid payment id")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
UPDATE payments
SET status = 'paid', paid_at = $2, updated_at = NOW()
WHERE id = $1
  AND status = 'pending'
RETURNING id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
`, paymentID, paidAt))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PaymentRecord{}, false, fmt.Errorf("mark payment paid: %w", err)
	}

	existing, err := r.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentRecord{}, false, err
	}
	return existing, false, nil
}

// SetStatus performs a compare-and-swap transition: the write only lands when
// the payment currently sits in one of the allowed source statuses. This is
// what keeps a racing automatic trigger and manual retry from both recording
// an outcome for the same invocation.
func (r *PaymentRepo) SetStatus(
	ctx context.Context,
	paymentID int64,
	target enums.PaymentStatus,
	from ...enums.PaymentStatus,
) (PaymentRecord, error) {
	if r.pool == nil {
		return PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if paymentID <= 0 {
		return PaymentRecord{}, fmt.Errorf("invalid payment id")
	}
	if len(from) == 0 {
		return PaymentRecord{}, fmt.Errorf("source statuses are required")
	}

	sources := make([]string, 0, len(from))
	for _, s := range from {
		sources = append(sources, string(s))
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
UPDATE payments
SET status = $2, updated_at = NOW()
WHERE id = $1
  AND status = ANY($3)
RETURNING id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
`, paymentID, string(target), sources))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, ErrPaymentNotTransition
		}
		return PaymentRecord{}, fmt.Errorf("set payment status: %w", err)
	}

	return record, nil
}

// ListByStatus returns payments in one status ordered by id. A limit <= 0
// means no cap: bulk retry must see the whole error set, not a page of it.
func (r *PaymentRepo) ListByStatus(ctx context.Context, status enums.PaymentStatus, resellerID *int64, limit int) ([]PaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	query := `
SELECT id, reseller_id, package_id, credits, price_cents, provider_ref, qr_code, status, created_at, expires_at, paid_at, updated_at
FROM payments
WHERE status = $1`
	args := []any{string(status)}
	if resellerID != nil {
		query += `
  AND reseller_id = $2`
		args = append(args, *resellerID)
	}
	query += `
ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(`
LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments by status: %w", err)
	}
	defer rows.Close()

	var records []PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return records, nil
}

// ExpirePending marks pending payments whose charge lapsed before settlement
// and returns how many rows changed.
func (r *PaymentRepo) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE payments
SET status = 'expired', updated_at = NOW()
WHERE status = 'pending'
  AND expires_at < $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanPayment(row pgx.Row) (PaymentRecord, error) {
	var record PaymentRecord
	if err := row.Scan(
		&record.ID,
		&record.ResellerID,
		&record.PackageID,
		&record.Credits,
		&record.PriceCents,
		&record.ProviderRef,
		&record.QRCode,
		&record.Status,
		&record.CreatedAt,
		&record.ExpiresAt,
		&record.PaidAt,
		&record.UpdatedAt,
	); err != nil {
		return PaymentRecord{}, err
	}
	return record, nil
}
