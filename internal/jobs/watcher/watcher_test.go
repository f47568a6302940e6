package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
)

type paymentStoreStub struct {
	pending      []pgrepo.PaymentRecord
	expireCutoff time.Time
	expired      int64
}

func (s *paymentStoreStub) ListByStatus(_ context.Context, status enums.PaymentStatus, _ *int64, _ int) ([]pgrepo.PaymentRecord, error) {
	if status != enums.PaymentStatusPending {
		return nil, nil
	}
	return s.pending, nil
}

func (s *paymentStoreStub) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	s.expireCutoff = cutoff
	return s.expired, nil
}

type providerStub struct {
	settled map[string]bool
	errs    map[string]error
	calls   []string
}

func (s *providerStub) Status(_ context.Context, providerRef string) (bool, error) {
	s.calls = append(s.calls, providerRef)
	if err := s.errs[providerRef]; err != nil {
		return false, err
	}
	return s.settled[providerRef], nil
}

type confirmerStub struct {
	confirmed []string
	err       error
}

func (s *confirmerStub) ConfirmByProviderRef(_ context.Context, providerRef string) (paysvc.ConfirmResult, error) {
	if s.err != nil {
		return paysvc.ConfirmResult{}, s.err
	}
	s.confirmed = append(s.confirmed, providerRef)
	return paysvc.ConfirmResult{Status: enums.PaymentStatusCredited, Credited: true}, nil
}

func TestRunConfirmsOnlySettledCharges(t *testing.T) {
	payments := &paymentStoreStub{pending: []pgrepo.PaymentRecord{
		{ID: 1, ProviderRef: "pix-1", Status: enums.PaymentStatusPending},
		{ID: 2, ProviderRef: "pix-2", Status: enums.PaymentStatusPending},
		{ID: 3, ProviderRef: "pix-3", Status: enums.PaymentStatusPending},
	}}
	provider := &providerStub{settled: map[string]bool{"pix-1": true, "pix-3": true}}
	confirmer := &confirmerStub{}

	job := New(payments, provider, confirmer, 50, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run watcher: %v", err)
	}

	if len(confirmer.confirmed) != 2 || confirmer.confirmed[0] != "pix-1" || confirmer.confirmed[1] != "pix-3" {
		t.Fatalf("unexpected confirmations: %v", confirmer.confirmed)
	}
}

func TestRunExpiresBeforePolling(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	payments := &paymentStoreStub{expired: 4}
	provider := &providerStub{}
	confirmer := &confirmerStub{}

	job := New(payments, provider, confirmer, 50, nil)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run watcher: %v", err)
	}

	if !payments.expireCutoff.Equal(now) {
		t.Fatalf("expiry cutoff should be now, got %v", payments.expireCutoff)
	}
}

func TestRunSurvivesProviderAndConfirmFailures(t *testing.T) {
	payments := &paymentStoreStub{pending: []pgrepo.PaymentRecord{
		{ID: 1, ProviderRef: "pix-broken", Status: enums.PaymentStatusPending},
		{ID: 2, ProviderRef: "pix-ok", Status: enums.PaymentStatusPending},
	}}
	provider := &providerStub{
		settled: map[string]bool{"pix-ok": true},
		errs:    map[string]error{"pix-broken": errors.New("provider timeout")},
	}
	confirmer := &confirmerStub{}

	job := New(payments, provider, confirmer, 50, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("one broken charge must not fail the pass: %v", err)
	}

	if len(provider.calls) != 2 {
		t.Fatalf("both charges should be polled, got %v", provider.calls)
	}
	if len(confirmer.confirmed) != 1 || confirmer.confirmed[0] != "pix-ok" {
		t.Fatalf("unexpected confirmations: %v", confirmer.confirmed)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	payments := &paymentStoreStub{pending: []pgrepo.PaymentRecord{
		{ID: 1, ProviderRef: "pix-1", Status: enums.PaymentStatusPending},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := New(payments, &providerStub{}, &confirmerStub{}, 50, nil)
	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
