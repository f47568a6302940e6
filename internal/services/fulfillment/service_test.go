package fulfillment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
	"github.com/sinhamoca/verificacao-sub002/internal/panel"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
)

type paymentStoreStub struct {
	mu       sync.Mutex
	payments map[int64]pgrepo.PaymentRecord
}

func newPaymentStoreStub(records ...pgrepo.PaymentRecord) *paymentStoreStub {
	s := &paymentStoreStub{payments: make(map[int64]pgrepo.PaymentRecord)}
	for _, rec := range records {
		s.payments[rec.ID] = rec
	}
	return s
}

func (s *paymentStoreStub) FindByID(_ context.Context, paymentID int64) (pgrepo.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[paymentID]
	if !ok {
		return pgrepo.PaymentRecord{}, pgrepo.ErrPaymentNotFound
	}
	return rec, nil
}

func (s *paymentStoreStub) MarkPaid(_ context.Context, paymentID int64, paidAt time.Time) (pgrepo.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[paymentID]
	if !ok {
		return pgrepo.PaymentRecord{}, false, pgrepo.ErrPaymentNotFound
	}
	if rec.Status != enums.PaymentStatusPending {
		return rec, false, nil
	}
	rec.Status = enums.PaymentStatusPaid
	rec.PaidAt = &paidAt
	s.payments[paymentID] = rec
	return rec, true, nil
}

func (s *paymentStoreStub) SetStatus(_ context.Context, paymentID int64, target enums.PaymentStatus, from ...enums.PaymentStatus) (pgrepo.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[paymentID]
	if !ok {
		return pgrepo.PaymentRecord{}, pgrepo.ErrPaymentNotFound
	}
	allowed := false
	for _, status := range from {
		if rec.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return pgrepo.PaymentRecord{}, pgrepo.ErrPaymentNotTransition
	}
	rec.Status = target
	s.payments[paymentID] = rec
	return rec, nil
}

func (s *paymentStoreStub) ListByStatus(_ context.Context, status enums.PaymentStatus, resellerID *int64, limit int) ([]pgrepo.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []pgrepo.PaymentRecord
	for _, rec := range s.payments {
		if rec.Status != status {
			continue
		}
		if resellerID != nil && rec.ResellerID != *resellerID {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *paymentStoreStub) status(t *testing.T, paymentID int64) enums.PaymentStatus {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[paymentID]
	if !ok {
		t.Fatalf("payment %d missing from stub", paymentID)
	}
	return rec.Status
}

type transactionStoreStub struct {
	mu      sync.Mutex
	records []pgrepo.TransactionRecord
}

func (s *transactionStoreStub) Create(_ context.Context, paymentID int64, attempt int, success bool, remoteResponse string) (pgrepo.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := pgrepo.TransactionRecord{
		ID:             int64(len(s.records) + 1),
		PaymentID:      paymentID,
		Attempt:        attempt,
		Success:        success,
		RemoteResponse: remoteResponse,
		CreatedAt:      time.Now().UTC(),
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *transactionStoreStub) byPayment(paymentID int64) []pgrepo.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []pgrepo.TransactionRecord
	for _, rec := range s.records {
		if rec.PaymentID == paymentID {
			records = append(records, rec)
		}
	}
	return records
}

type resellerStoreStub struct {
	resellers map[int64]pgrepo.ResellerRecord
}

func (s *resellerStoreStub) FindByID(_ context.Context, resellerID int64) (pgrepo.ResellerRecord, error) {
	rec, ok := s.resellers[resellerID]
	if !ok {
		return pgrepo.ResellerRecord{}, pgrepo.ErrResellerNotFound
	}
	return rec, nil
}

type panelStoreStub struct {
	panels map[int64]pgrepo.PanelRecord
}

func (s *panelStoreStub) FindByID(_ context.Context, panelID int64) (pgrepo.PanelRecord, error) {
	rec, ok := s.panels[panelID]
	if !ok {
		return pgrepo.PanelRecord{}, pgrepo.ErrPanelNotFound
	}
	return rec, nil
}

// registryStub hands each payment's fulfillment the scripted adapter keyed by
// the panel's base URL, mirroring how the real registry resolves per panel.
type registryStub struct {
	adapters map[string]panel.Adapter
	err      error
}

func (s *registryStub) AdapterFor(_ enums.PanelFamily, creds panel.Credentials) (panel.Adapter, error) {
	if s.err != nil {
		return nil, s.err
	}
	adapter, ok := s.adapters[creds.BaseURL]
	if !ok {
		return nil, panel.ErrUnknownFamily
	}
	return adapter, nil
}

type lockerStub struct {
	mu   sync.Mutex
	held map[int64]bool
	deny bool
}

func newLockerStub() *lockerStub {
	return &lockerStub{held: make(map[int64]bool)}
}

func (s *lockerStub) Acquire(_ context.Context, paymentID int64, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny || s.held[paymentID] {
		return false, nil
	}
	s.held[paymentID] = true
	return true, nil
}

func (s *lockerStub) Release(_ context.Context, paymentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, paymentID)
	return nil
}

type notifierStub struct {
	mu    sync.Mutex
	calls int
}

func (s *notifierStub) FulfillmentFailed(_ context.Context, _ int64, _ string, _ int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func fixture(adapter panel.Adapter, payments ...pgrepo.PaymentRecord) (*Service, *paymentStoreStub, *transactionStoreStub) {
	paymentStore := newPaymentStoreStub(payments...)
	txStore := &transactionStoreStub{}
	resellers := &resellerStoreStub{resellers: map[int64]pgrepo.ResellerRecord{
		10: {ID: 10, Username: "revenda01", ExternalID: "887", PanelID: 5, Status: "active"},
	}}
	panels := &panelStoreStub{panels: map[int64]pgrepo.PanelRecord{
		5: {ID: 5, Name: "main", Family: enums.PanelFamilyToken, BaseURL: "https://panel.example", Username: "admin", Password: "pw", Status: "active"},
	}}
	registry := &registryStub{adapters: map[string]panel.Adapter{"https://panel.example": adapter}}

	svc := NewService(Dependencies{
		Payments:     paymentStore,
		Transactions: txStore,
		Resellers:    resellers,
		Panels:       panels,
		Registry:     registry,
		Locker:       newLockerStub(),
	}, Config{MaxAttempts: 3, Backoff: 0, BulkConcurrency: 2}, nil)

	return svc, paymentStore, txStore
}

func paidPayment(id int64) pgrepo.PaymentRecord {
	return pgrepo.PaymentRecord{ID: id, ResellerID: 10, PackageID: 3, Credits: 3, PriceCents: 1500, Status: enums.PaymentStatusPaid}
}

func errorPayment(id int64) pgrepo.PaymentRecord {
	rec := paidPayment(id)
	rec.Status = enums.PaymentStatusError
	return rec
}

func TestOnPaymentConfirmedCreditsPendingPayment(t *testing.T) {
	adapter := &scriptedAdapter{raw: `{"status":"success","balance":18}`}
	payment := paidPayment(1)
	payment.Status = enums.PaymentStatusPending
	svc, payments, txs := fixture(adapter, payment)

	outcome, err := svc.OnPaymentConfirmed(context.Background(), 1)
	if err != nil {
		t.Fatalf("on payment confirmed: %v", err)
	}

	if !outcome.Succeeded || outcome.Status != enums.PaymentStatusCredited {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := payments.status(t, 1); got != enums.PaymentStatusCredited {
		t.Fatalf("payment should end credited, got %s", got)
	}

	records := txs.byPayment(1)
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("expected exactly one successful transaction, got %+v", records)
	}
	if records[0].RemoteResponse == "" {
		t.Fatalf("successful transaction must retain the raw remote response")
	}
}

func TestExhaustedRetriesRecordErrorWithOneTransactionPerAttempt(t *testing.T) {
	// Payment #42: cookie login page without an anti-forgery field fails every
	// attempt at login.
	authErr := &panel.AuthError{Reason: "no anti-forgery field on login page"}
	adapter := &scriptedAdapter{loginErrs: []error{authErr, authErr, authErr}}
	svc, payments, txs := fixture(adapter, paidPayment(42))

	notifier := &notifierStub{}
	svc.AttachNotifier(notifier)

	outcome, err := svc.Retry(context.Background(), 42)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if outcome.Succeeded || outcome.Status != enums.PaymentStatusError {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := payments.status(t, 42); got != enums.PaymentStatusError {
		t.Fatalf("payment should end in error, got %s", got)
	}

	records := txs.byPayment(42)
	if len(records) != 3 {
		t.Fatalf("expected 3 transactions for 3 attempts, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Success {
			t.Fatalf("all transactions should be failed: %+v", rec)
		}
	}
	if notifier.calls != 1 {
		t.Fatalf("operator should be notified once, got %d", notifier.calls)
	}
}

func TestSuccessOnSecondAttemptLeavesFailedAuditRecord(t *testing.T) {
	// Payment #7: transport timeout on attempt 1, success on attempt 2.
	adapter := &scriptedAdapter{
		applyErrs: []error{&panel.NetworkError{Op: "apply credit", Err: context.DeadlineExceeded}},
	}
	svc, payments, txs := fixture(adapter, paidPayment(7))

	outcome, err := svc.Retry(context.Background(), 7)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if !outcome.Succeeded || outcome.Attempts != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := payments.status(t, 7); got != enums.PaymentStatusCredited {
		t.Fatalf("payment should end credited, got %s", got)
	}

	records := txs.byPayment(7)
	if len(records) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(records))
	}
	if records[0].Success || !records[1].Success {
		t.Fatalf("expected failed then successful transaction: %+v", records)
	}
}

func TestReobservingSettlementIsIdempotent(t *testing.T) {
	adapter := &scriptedAdapter{}
	credited := paidPayment(9)
	credited.Status = enums.PaymentStatusCredited
	svc, payments, txs := fixture(adapter, credited)

	outcome, err := svc.OnPaymentConfirmed(context.Background(), 9)
	if err != nil {
		t.Fatalf("on payment confirmed: %v", err)
	}

	if !outcome.Succeeded || outcome.Status != enums.PaymentStatusCredited {
		t.Fatalf("re-observed settlement should report already credited: %+v", outcome)
	}
	if len(txs.byPayment(9)) != 0 {
		t.Fatalf("no transaction may be written for an already credited payment")
	}
	if adapter.logins != 0 {
		t.Fatalf("no remote call may run for an already credited payment")
	}
	if got := payments.status(t, 9); got != enums.PaymentStatusCredited {
		t.Fatalf("status must stay credited, got %s", got)
	}
}

func TestReobservedSettlementLeavesErrorPaymentUntouched(t *testing.T) {
	// A replayed settlement event must not drive error -> credited; that
	// transition belongs to an explicit retry.
	adapter := &scriptedAdapter{raw: `{"status":"success"}`}
	svc, payments, txs := fixture(adapter, errorPayment(13))

	outcome, err := svc.OnPaymentConfirmed(context.Background(), 13)
	if err != nil {
		t.Fatalf("on payment confirmed: %v", err)
	}

	if outcome.Succeeded || outcome.Status != enums.PaymentStatusError {
		t.Fatalf("re-observed settlement must not credit an error payment: %+v", outcome)
	}
	if adapter.logins != 0 {
		t.Fatalf("no remote call may run for a re-observed error payment, got %d logins", adapter.logins)
	}
	if len(txs.byPayment(13)) != 0 {
		t.Fatalf("no transaction may be written for a re-observed error payment")
	}
	if got := payments.status(t, 13); got != enums.PaymentStatusError {
		t.Fatalf("status must stay error, got %s", got)
	}

	// An explicit retry still recovers the same payment.
	retried, err := svc.Retry(context.Background(), 13)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retried.Succeeded {
		t.Fatalf("explicit retry should recover the payment: %+v", retried)
	}
	if got := payments.status(t, 13); got != enums.PaymentStatusCredited {
		t.Fatalf("retried payment should end credited, got %s", got)
	}
}

func TestRetryRejectsNonRetriableStates(t *testing.T) {
	adapter := &scriptedAdapter{}
	pending := paidPayment(1)
	pending.Status = enums.PaymentStatusPending
	credited := paidPayment(2)
	credited.Status = enums.PaymentStatusCredited
	expired := paidPayment(3)
	expired.Status = enums.PaymentStatusExpired
	svc, _, _ := fixture(adapter, pending, credited, expired)

	for _, id := range []int64{1, 2, 3} {
		if _, err := svc.Retry(context.Background(), id); !errors.Is(err, ErrNotRetriable) {
			t.Fatalf("payment %d: expected ErrNotRetriable, got %v", id, err)
		}
	}

	if _, err := svc.Retry(context.Background(), 999); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestRetryRecoversErrorPayment(t *testing.T) {
	adapter := &scriptedAdapter{raw: `{"result":true}`}
	svc, payments, txs := fixture(adapter, errorPayment(11))

	outcome, err := svc.Retry(context.Background(), 11)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !outcome.Succeeded {
		t.Fatalf("retry should succeed: %+v", outcome)
	}
	if got := payments.status(t, 11); got != enums.PaymentStatusCredited {
		t.Fatalf("error payment should recover to credited, got %s", got)
	}
	if records := txs.byPayment(11); len(records) != 1 || !records[0].Success {
		t.Fatalf("expected one successful transaction, got %+v", records)
	}
}

func TestPanelMisconfigurationIsFatalNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{}
	svc, payments, txs := fixture(adapter, paidPayment(5))
	svc.registry = &registryStub{err: panel.ErrUnknownFamily}

	if _, err := svc.Retry(context.Background(), 5); !errors.Is(err, ErrPanelMisconfigured) {
		t.Fatalf("expected ErrPanelMisconfigured, got %v", err)
	}

	if adapter.logins != 0 {
		t.Fatalf("no remote attempt may run against a misconfigured panel")
	}
	if len(txs.byPayment(5)) != 0 {
		t.Fatalf("no transaction may be recorded for a configuration defect")
	}
	if got := payments.status(t, 5); got != enums.PaymentStatusPaid {
		t.Fatalf("payment status must stay paid, got %s", got)
	}
}

func TestConcurrentFulfillmentIsRejectedByLock(t *testing.T) {
	adapter := &scriptedAdapter{}
	svc, _, _ := fixture(adapter, paidPayment(6))
	locker := newLockerStub()
	locker.deny = true
	svc.locker = locker

	if _, err := svc.Retry(context.Background(), 6); !errors.Is(err, ErrFulfillmentInProgress) {
		t.Fatalf("expected ErrFulfillmentInProgress, got %v", err)
	}
}

func TestBulkRetryAggregatesIndependentOutcomes(t *testing.T) {
	// 5 payments in error; the panel rejects accounts flagged "bad".
	resellers := &resellerStoreStub{resellers: map[int64]pgrepo.ResellerRecord{
		10: {ID: 10, Username: "revenda01", ExternalID: "good", PanelID: 5, Status: "active"},
		20: {ID: 20, Username: "revenda02", ExternalID: "bad", PanelID: 5, Status: "active"},
	}}
	panels := &panelStoreStub{panels: map[int64]pgrepo.PanelRecord{
		5: {ID: 5, Family: enums.PanelFamilyToken, BaseURL: "https://panel.example", Username: "admin", Password: "pw", Status: "active"},
	}}
	adapter := &selectiveAdapter{failAccount: "bad"}
	registry := &registryStub{adapters: map[string]panel.Adapter{"https://panel.example": adapter}}

	paymentStore := newPaymentStoreStub()
	for id := int64(1); id <= 3; id++ {
		rec := errorPayment(id)
		paymentStore.payments[id] = rec
	}
	for id := int64(4); id <= 5; id++ {
		rec := errorPayment(id)
		rec.ResellerID = 20
		paymentStore.payments[id] = rec
	}
	// An expired payment must be invisible to bulk retry.
	expired := paidPayment(99)
	expired.Status = enums.PaymentStatusExpired
	paymentStore.payments[99] = expired

	txStore := &transactionStoreStub{}
	svc := NewService(Dependencies{
		Payments:     paymentStore,
		Transactions: txStore,
		Resellers:    resellers,
		Panels:       panels,
		Registry:     registry,
		Locker:       newLockerStub(),
	}, Config{MaxAttempts: 1, Backoff: 0, BulkConcurrency: 3}, nil)

	summary, err := svc.RetryAllErrors(context.Background(), nil)
	if err != nil {
		t.Fatalf("bulk retry: %v", err)
	}

	if summary.Total != 5 || summary.Succeeded != 3 || summary.Failed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Succeeded+summary.Failed != summary.Total {
		t.Fatalf("summary counts must add up: %+v", summary)
	}

	for id := int64(1); id <= 3; id++ {
		if got := paymentStore.status(t, id); got != enums.PaymentStatusCredited {
			t.Fatalf("payment %d should be credited, got %s", id, got)
		}
	}
	for id := int64(4); id <= 5; id++ {
		if got := paymentStore.status(t, id); got != enums.PaymentStatusError {
			t.Fatalf("payment %d should stay in error, got %s", id, got)
		}
	}
	if got := paymentStore.status(t, 99); got != enums.PaymentStatusExpired {
		t.Fatalf("expired payment must be untouched by bulk retry, got %s", got)
	}
}

func TestBulkRetryScopedToReseller(t *testing.T) {
	adapter := &scriptedAdapter{raw: `{"result":true}`}
	mine := errorPayment(1)
	other := errorPayment(2)
	other.ResellerID = 77
	svc, payments, _ := fixture(adapter, mine, other)

	resellerID := int64(10)
	summary, err := svc.RetryAllErrors(context.Background(), &resellerID)
	if err != nil {
		t.Fatalf("bulk retry: %v", err)
	}

	if summary.Total != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := payments.status(t, 2); got != enums.PaymentStatusError {
		t.Fatalf("foreign reseller payment must be untouched, got %s", got)
	}
}

func TestBulkRetryDrainsBeyondSinglePage(t *testing.T) {
	// More error payments than any default list page; bulk retry must see
	// every one of them, not the first hundred.
	adapter := &selectiveAdapter{failAccount: "none"}
	records := make([]pgrepo.PaymentRecord, 0, 150)
	for id := int64(1); id <= 150; id++ {
		records = append(records, errorPayment(id))
	}
	svc, payments, _ := fixture(adapter, records...)

	summary, err := svc.RetryAllErrors(context.Background(), nil)
	if err != nil {
		t.Fatalf("bulk retry: %v", err)
	}

	if summary.Total != 150 || summary.Succeeded != 150 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, id := range []int64{1, 101, 150} {
		if got := payments.status(t, id); got != enums.PaymentStatusCredited {
			t.Fatalf("payment %d should be credited, got %s", id, got)
		}
	}
}

// selectiveAdapter rejects a specific external account and credits the rest.
type selectiveAdapter struct {
	failAccount string
}

func (a *selectiveAdapter) Login(_ context.Context) (panel.Session, error) {
	return nil, nil
}

func (a *selectiveAdapter) ApplyCredit(_ context.Context, _ panel.Session, externalID string, _ int) (panel.Result, error) {
	if externalID == a.failAccount {
		return panel.Result{}, &panel.RejectionError{Message: "unknown account", RawBody: `{"error":"unknown account"}`}
	}
	return panel.Result{RawBody: `{"status":"success"}`}, nil
}
