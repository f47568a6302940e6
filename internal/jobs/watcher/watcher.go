package watcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
)

type PaymentStore interface {
	ListByStatus(ctx context.Context, status enums.PaymentStatus, resellerID *int64, limit int) ([]pgrepo.PaymentRecord, error)
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

type StatusProvider interface {
	Status(ctx context.Context, providerRef string) (bool, error)
}

type Confirmer interface {
	ConfirmByProviderRef(ctx context.Context, providerRef string) (paysvc.ConfirmResult, error)
}

// Job polls the charge provider for settled pending payments and expires the
// ones whose charge window has closed. It backs providers without webhooks
// and doubles as a safety net when a webhook is lost.
type Job struct {
	payments  PaymentStore
	provider  StatusProvider
	confirmer Confirmer
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

func New(payments PaymentStore, provider StatusProvider, confirmer Confirmer, batchSize int, logger *zap.Logger) *Job {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		payments:  payments,
		provider:  provider,
		confirmer: confirmer,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.payments == nil || j.provider == nil || j.confirmer == nil {
		return fmt.Errorf("watcher dependencies are not configured")
	}

	// Expire first so a charge past its window is never polled again.
	expired, err := j.payments.ExpirePending(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	if expired > 0 {
		j.logger.Info("expired stale pending payments", zap.Int64("expired", expired))
	}

	pending, err := j.payments.ListByStatus(ctx, enums.PaymentStatusPending, nil, j.batchSize)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	var confirmed int
	for _, payment := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if payment.ProviderRef == "" {
			continue
		}

		settled, err := j.provider.Status(ctx, payment.ProviderRef)
		if err != nil {
			// One unreachable provider call must not starve the rest of the
			// batch.
			j.logger.Warn("query charge status",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err),
			)
			continue
		}
		if !settled {
			continue
		}

		result, err := j.confirmer.ConfirmByProviderRef(ctx, payment.ProviderRef)
		if err != nil {
			j.logger.Warn("confirm settled payment",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err),
			)
			continue
		}
		confirmed++
		j.logger.Info("settled payment confirmed",
			zap.Int64("payment_id", result.PaymentID),
			zap.String("status", string(result.Status)),
			zap.Bool("credited", result.Credited),
		)
	}

	if confirmed > 0 {
		j.logger.Info("watcher pass completed", zap.Int("confirmed", confirmed), zap.Int("scanned", len(pending)))
	}
	return nil
}
