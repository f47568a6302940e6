package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	"github.com/sinhamoca/verificacao-sub002/internal/panel"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrNotRetriable          = errors.New("payment is not in a retriable state")
	ErrFulfillmentInProgress = errors.New("fulfillment already in progress for this payment")
	ErrPanelMisconfigured    = errors.New("panel is misconfigured")
)

type PaymentStore interface {
	FindByID(ctx context.Context, paymentID int64) (pgrepo.PaymentRecord, error)
	MarkPaid(ctx context.Context, paymentID int64, paidAt time.Time) (pgrepo.PaymentRecord, bool, error)
	SetStatus(ctx context.Context, paymentID int64, target enums.PaymentStatus, from ...enums.PaymentStatus) (pgrepo.PaymentRecord, error)
	ListByStatus(ctx context.Context, status enums.PaymentStatus, resellerID *int64, limit int) ([]pgrepo.PaymentRecord, error)
}

type TransactionStore interface {
	Create(ctx context.Context, paymentID int64, attempt int, success bool, remoteResponse string) (pgrepo.TransactionRecord, error)
}

type ResellerStore interface {
	FindByID(ctx context.Context, resellerID int64) (pgrepo.ResellerRecord, error)
}

type PanelStore interface {
	FindByID(ctx context.Context, panelID int64) (pgrepo.PanelRecord, error)
}

type AdapterResolver interface {
	AdapterFor(family enums.PanelFamily, creds panel.Credentials) (panel.Adapter, error)
}

type Locker interface {
	Acquire(ctx context.Context, paymentID int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, paymentID int64) error
}

type Notifier interface {
	FulfillmentFailed(ctx context.Context, paymentID int64, resellerUsername string, credits int, reason string)
}

type Service struct {
	payments     PaymentStore
	transactions TransactionStore
	resellers    ResellerStore
	panels       PanelStore
	registry     AdapterResolver
	locker       Locker
	notifier     Notifier
	cfg          Config
	logger       *zap.Logger
	now          func() time.Time
}

type Dependencies struct {
	Payments     PaymentStore
	Transactions TransactionStore
	Resellers    ResellerStore
	Panels       PanelStore
	Registry     AdapterResolver
	Locker       Locker
}

type Config struct {
	MaxAttempts     int
	Backoff         time.Duration
	BulkConcurrency int
	LockTTL         time.Duration
}

// Outcome reports one fulfillment invocation. Exactly one state transition is
// recorded per invocation.
type Outcome struct {
	PaymentID int64
	Status    enums.PaymentStatus
	Attempts  int
	Succeeded bool
	Message   string
}

// Summary aggregates a bulk retry. Partial failure is the expected shape, not
// a batch-level error.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		payments:     deps.Payments,
		transactions: deps.Transactions,
		resellers:    deps.Resellers,
		panels:       deps.Panels,
		registry:     deps.Registry,
		locker:       deps.Locker,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

// OnPaymentConfirmed is the internal trigger for a settled payment. The
// pending -> paid transition is idempotent: re-observing "paid" on a payment
// that already left pending records nothing new.
func (s *Service) OnPaymentConfirmed(ctx context.Context, paymentID int64) (Outcome, error) {
	if s.payments == nil {
		return Outcome{}, fmt.Errorf("payment store is nil")
	}

	payment, changed, err := s.payments.MarkPaid(ctx, paymentID, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return Outcome{}, ErrPaymentNotFound
		}
		return Outcome{}, err
	}

	if !changed {
		switch payment.Status {
		case enums.PaymentStatusCredited:
			return Outcome{PaymentID: payment.ID, Status: payment.Status, Succeeded: true, Message: "already credited"}, nil
		case enums.PaymentStatusError:
			// The error -> credited transition belongs to an explicit retry;
			// a replayed settlement event must not re-run the remote panel.
			return Outcome{PaymentID: payment.ID, Status: payment.Status, Message: "awaiting retry"}, nil
		case enums.PaymentStatusExpired:
			return Outcome{}, ErrNotRetriable
		case enums.PaymentStatusPaid:
			// Settlement re-observed while a previous confirmation is still
			// being worked, or after a crash between MarkPaid and the
			// terminal write; fall through and let the lock arbitrate.
		default:
			return Outcome{}, ErrNotRetriable
		}
	}

	return s.fulfill(ctx, payment)
}

// Retry re-runs fulfillment for a single payment in paid or error state.
func (s *Service) Retry(ctx context.Context, paymentID int64) (Outcome, error) {
	if s.payments == nil {
		return Outcome{}, fmt.Errorf("payment store is nil")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return Outcome{}, ErrPaymentNotFound
		}
		return Outcome{}, err
	}

	if payment.Status != enums.PaymentStatusPaid && payment.Status != enums.PaymentStatusError {
		return Outcome{}, ErrNotRetriable
	}

	return s.fulfill(ctx, payment)
}

// RetryAllErrors re-invokes single-item retry for every payment in error,
// scoped to one reseller or the whole platform. Expired payments are
// excluded: an expired charge was never settled, so there is nothing to
// fulfill. Items run concurrently bounded by BulkConcurrency so one slow
// panel cannot absorb the whole pool.
func (s *Service) RetryAllErrors(ctx context.Context, resellerID *int64) (Summary, error) {
	if s.payments == nil {
		return Summary{}, fmt.Errorf("payment store is nil")
	}

	pending, err := s.payments.ListByStatus(ctx, enums.PaymentStatusError, resellerID, 0)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary = Summary{Total: len(pending)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for _, payment := range pending {
		paymentID := payment.ID
		g.Go(func() error {
			outcome, err := s.Retry(gctx, paymentID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !outcome.Succeeded {
				summary.Failed++
			} else {
				summary.Succeeded++
			}
			if err != nil {
				s.logger.Warn("bulk retry item failed",
					zap.Int64("payment_id", paymentID),
					zap.Error(err),
				)
			}
			// Item outcomes are independent; never fail the batch.
			return nil
		})
	}
	_ = g.Wait()

	return summary, nil
}

func (s *Service) fulfill(ctx context.Context, payment pgrepo.PaymentRecord) (Outcome, error) {
	if s.transactions == nil || s.resellers == nil || s.panels == nil || s.registry == nil {
		return Outcome{}, fmt.Errorf("fulfillment dependencies are not configured")
	}

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, payment.ID, s.cfg.LockTTL)
		if err != nil {
			return Outcome{}, err
		}
		if !acquired {
			return Outcome{}, ErrFulfillmentInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), payment.ID); err != nil {
				s.logger.Warn("release fulfillment lock", zap.Int64("payment_id", payment.ID), zap.Error(err))
			}
		}()
	}

	reseller, err := s.resellers.FindByID(ctx, payment.ResellerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load reseller for payment: %w", err)
	}

	panelRecord, err := s.panels.FindByID(ctx, reseller.PanelID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load panel for reseller: %w", err)
	}
	if panelRecord.Status != "active" {
		return Outcome{}, fmt.Errorf("%w: panel %d is %s", ErrPanelMisconfigured, panelRecord.ID, panelRecord.Status)
	}

	// Unknown family or blank credentials is a configuration defect, not a
	// remote failure: surfaced immediately, never retried, no transaction
	// recorded.
	adapter, err := s.registry.AdapterFor(panelRecord.Family, panel.Credentials{
		BaseURL:  panelRecord.BaseURL,
		Username: panelRecord.Username,
		Password: panelRecord.Password,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrPanelMisconfigured, err)
	}

	attempts, runErr := run(ctx, adapter, reseller.ExternalID, payment.Credits, RunConfig{
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     s.cfg.Backoff,
	})

	for _, attempt := range attempts {
		if _, err := s.transactions.Create(ctx, payment.ID, attempt.Number, attempt.Success, attempt.RawResponse); err != nil {
			s.logger.Error("record fulfillment transaction",
				zap.Int64("payment_id", payment.ID),
				zap.Int("attempt", attempt.Number),
				zap.Error(err),
			)
		}
	}

	if runErr == nil {
		return s.recordOutcome(ctx, payment, enums.PaymentStatusCredited, len(attempts), "")
	}

	s.logger.Warn("fulfillment exhausted retries",
		zap.Int64("payment_id", payment.ID),
		zap.Int("attempts", len(attempts)),
		zap.Error(runErr),
	)
	if s.notifier != nil {
		s.notifier.FulfillmentFailed(ctx, payment.ID, reseller.Username, payment.Credits, runErr.Error())
	}

	return s.recordOutcome(ctx, payment, enums.PaymentStatusError, len(attempts), runErr.Error())
}

func (s *Service) recordOutcome(ctx context.Context, payment pgrepo.PaymentRecord, target enums.PaymentStatus, attempts int, message string) (Outcome, error) {
	updated, err := s.payments.SetStatus(ctx, payment.ID, target, enums.PaymentStatusPaid, enums.PaymentStatusError)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotTransition) {
			// Lost a race with a concurrent invocation; the other side has
			// already recorded its outcome.
			s.logger.Warn("payment state changed concurrently",
				zap.Int64("payment_id", payment.ID),
				zap.String("target", string(target)),
			)
			return Outcome{}, ErrFulfillmentInProgress
		}
		return Outcome{}, fmt.Errorf("record fulfillment outcome: %w", err)
	}

	return Outcome{
		PaymentID: updated.ID,
		Status:    updated.Status,
		Attempts:  attempts,
		Succeeded: target == enums.PaymentStatusCredited,
		Message:   message,
	}, nil
}
