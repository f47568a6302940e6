package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

// TransactionRecord is the append-only audit trail of one fulfillment
// attempt. RemoteResponse stores the raw panel reply verbatim; it is kept for
// diagnosis only and never parsed again after the attempt.
type TransactionRecord struct {
	ID             int64
	PaymentID      int64
	Attempt        int
	Success        bool
	RemoteResponse string
	CreatedAt      time.Time
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, paymentID int64, attempt int, success bool, remoteResponse string) (TransactionRecord, error) {
	if r.pool == nil {
		return TransactionRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if paymentID <= 0 || attempt <= 0 {
		return TransactionRecord{}, fmt.Errorf("invalid transaction create payload")
	}

	var record TransactionRecord
	err := r.pool.QueryRow(ctx, `
INSERT INTO transactions (
	payment_id,
	attempt,
	success,
	remote_response,
	created_at
) VALUES ($1, $2, $3, $4, NOW())
RETURNING id, payment_id, attempt, success, remote_response, created_at
`, paymentID, attempt, success, remoteResponse).Scan(
		&record.ID,
		&record.PaymentID,
		&record.Attempt,
		&record.Success,
		&record.RemoteResponse,
		&record.CreatedAt,
	)
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("create transaction: %w", err)
	}

	return record, nil
}

func (r *TransactionRepo) ListByPayment(ctx context.Context, paymentID int64) ([]TransactionRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if paymentID <= 0 {
		return nil, fmt.Errorf("invalid payment id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, payment_id, attempt, success, remote_response, created_at
FROM transactions
WHERE payment_id = $1
ORDER BY id
`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by payment: %w", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return records, nil
}

func scanTransaction(row pgx.Row) (TransactionRecord, error) {
	var record TransactionRecord
	if err := row.Scan(
		&record.ID,
		&record.PaymentID,
		&record.Attempt,
		&record.Success,
		&record.RemoteResponse,
		&record.CreatedAt,
	); err != nil {
		return TransactionRecord{}, err
	}
	return record, nil
}
