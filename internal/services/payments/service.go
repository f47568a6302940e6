package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
	"github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrPackageNotAvailable = errors.New("package is not available for purchase")
	ErrResellerInactive    = errors.New("reseller account is not active")
)

type PaymentStore interface {
	Create(
		ctx context.Context,
		resellerID, packageID int64,
		credits, priceCents int,
		providerRef, qrCode string,
		expiresAt time.Time,
	) (pgrepo.PaymentRecord, error)
	FindByID(ctx context.Context, paymentID int64) (pgrepo.PaymentRecord, error)
	FindByProviderRef(ctx context.Context, providerRef string) (pgrepo.PaymentRecord, error)
}

type PackageStore interface {
	FindByID(ctx context.Context, packageID int64) (pgrepo.PackageRecord, error)
	ListByReseller(ctx context.Context, resellerID int64) ([]pgrepo.PackageRecord, error)
}

type ResellerStore interface {
	FindByID(ctx context.Context, resellerID int64) (pgrepo.ResellerRecord, error)
}

// Fulfiller is the downstream credit-delivery boundary, invoked once a charge
// is observed settled.
type Fulfiller interface {
	OnPaymentConfirmed(ctx context.Context, paymentID int64) (fulfillment.Outcome, error)
}

type Service struct {
	payments  PaymentStore
	packages  PackageStore
	resellers ResellerStore
	provider  ChargeProvider
	fulfiller Fulfiller
	chargeTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type Dependencies struct {
	Payments  PaymentStore
	Packages  PackageStore
	Resellers ResellerStore
	Provider  ChargeProvider
	Fulfiller Fulfiller
}

// PaymentView is the sanitized storefront shape. Raw remote panel responses
// live only in the audit table and never appear here.
type PaymentView struct {
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
}

type ConfirmResult struct {
	PaymentID        int64
	Status           enums.PaymentStatus
	Credited         bool
	AlreadyProcessed bool
}

func NewService(deps Dependencies, chargeTTL time.Duration, logger *zap.Logger) *Service {
	if chargeTTL <= 0 {
		chargeTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		payments:  deps.Payments,
		packages:  deps.Packages,
		resellers: deps.Resellers,
		provider:  deps.Provider,
		fulfiller: deps.Fulfiller,
		chargeTTL: chargeTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a pending payment for one of the reseller's packages. The
// package's credits and price are copied onto the payment so later package
// edits never change what an in-flight charge delivers.
func (s *Service) Create(ctx context.Context, resellerID, packageID int64) (PaymentView, error) {
	if resellerID <= 0 || packageID <= 0 {
		return PaymentView{}, ErrValidation
	}
	if s.payments == nil || s.packages == nil || s.resellers == nil || s.provider == nil {
		return PaymentView{}, fmt.Errorf("payments dependencies are not configured")
	}

	reseller, err := s.resellers.FindByID(ctx, resellerID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResellerNotFound) {
			return PaymentView{}, ErrValidation
		}
		return PaymentView{}, err
	}
	if !strings.EqualFold(reseller.Status, "active") {
		return PaymentView{}, ErrResellerInactive
	}

	pkg, err := s.packages.FindByID(ctx, packageID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPackageNotFound) {
			return PaymentView{}, ErrPackageNotFound
		}
		return PaymentView{}, err
	}
	if pkg.ResellerID != reseller.ID || !pkg.Active {
		return PaymentView{}, ErrPackageNotAvailable
	}

	ref := uuid.NewString()
	charge, err := s.provider.CreateCharge(ctx, pkg.PriceCents, ref)
	if err != nil {
		return PaymentView{}, fmt.Errorf("issue pix charge: %w", err)
	}

	expiresAt := charge.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = s.now().UTC().Add(s.chargeTTL)
	}

	record, err := s.payments.Create(ctx, reseller.ID, pkg.ID, pkg.Credits, pkg.PriceCents, charge.ProviderRef, charge.QRCode, expiresAt)
	if err != nil {
		return PaymentView{}, err
	}

	s.logger.Info("payment created",
		zap.Int64("payment_id", record.ID),
		zap.Int64("reseller_id", record.ResellerID),
		zap.Int("credits", record.Credits),
		zap.Int("price_cents", record.PriceCents),
	)

	return toView(record), nil
}

// Get returns the sanitized storefront view, scoped to the owning reseller
// unless the caller is an operator.
func (s *Service) Get(ctx context.Context, paymentID int64, resellerID *int64) (PaymentView, error) {
	if paymentID <= 0 {
		return PaymentView{}, ErrValidation
	}
	if s.payments == nil {
		return PaymentView{}, fmt.Errorf("payment store is nil")
	}

	record, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return PaymentView{}, ErrPaymentNotFound
		}
		return PaymentView{}, err
	}
	if resellerID != nil && record.ResellerID != *resellerID {
		// Hide other resellers' payments behind the same 404 the storefront
		// shows for ids that never existed.
		return PaymentView{}, ErrPaymentNotFound
	}

	return toView(record), nil
}

// ListPackages exposes the reseller's purchasable packages for the storefront.
func (s *Service) ListPackages(ctx context.Context, resellerID int64) ([]pgrepo.PackageRecord, error) {
	if resellerID <= 0 {
		return nil, ErrValidation
	}
	if s.packages == nil {
		return nil, fmt.Errorf("package store is nil")
	}
	return s.packages.ListByReseller(ctx, resellerID)
}

// ConfirmByProviderRef is the settlement entry shared by the provider webhook
// and the watcher poll. Idempotent: re-observing a settled charge on a payment
// that already left pending records nothing new.
func (s *Service) ConfirmByProviderRef(ctx context.Context, providerRef string) (ConfirmResult, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return ConfirmResult{}, ErrValidation
	}
	if s.payments == nil || s.fulfiller == nil {
		return ConfirmResult{}, fmt.Errorf("payments dependencies are not configured")
	}

	record, err := s.payments.FindByProviderRef(ctx, providerRef)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return ConfirmResult{}, ErrPaymentNotFound
		}
		return ConfirmResult{}, err
	}

	if record.Status.Terminal() || record.Status == enums.PaymentStatusError {
		// Error payments wait for an explicit retry; a replayed settlement
		// callback must not restart fulfillment against the remote panel.
		return ConfirmResult{
			PaymentID:        record.ID,
			Status:           record.Status,
			Credited:         record.Status == enums.PaymentStatusCredited,
			AlreadyProcessed: true,
		}, nil
	}

	outcome, err := s.fulfiller.OnPaymentConfirmed(ctx, record.ID)
	if err != nil {
		if errors.Is(err, fulfillment.ErrFulfillmentInProgress) {
			// Another confirmation of the same charge is running; it owns the
			// outcome.
			return ConfirmResult{PaymentID: record.ID, Status: record.Status, AlreadyProcessed: true}, nil
		}
		return ConfirmResult{}, err
	}

	return ConfirmResult{
		PaymentID:        outcome.PaymentID,
		Status:           outcome.Status,
		Credited:         outcome.Succeeded,
		AlreadyProcessed: outcome.Message == "already credited" || outcome.Message == "awaiting retry",
	}, nil
}

func toView(record pgrepo.PaymentRecord) PaymentView {
	return PaymentView{
		ID:          record.ID,
		ResellerID:  record.ResellerID,
		PackageID:   record.PackageID,
		Credits:     record.Credits,
		PriceCents:  record.PriceCents,
		ProviderRef: record.ProviderRef,
		QRCode:      record.QRCode,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
		PaidAt:      record.PaidAt,
	}
}
