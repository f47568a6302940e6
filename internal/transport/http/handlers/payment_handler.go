package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	authsvc "github.com/sinhamoca/verificacao-sub002/internal/services/auth"
	fulfillsvc "github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
	"github.com/sinhamoca/verificacao-sub002/internal/transport/http/dto"
	httperrors "github.com/sinhamoca/verificacao-sub002/internal/transport/http/errors"
)

type PaymentHandler struct {
	payments    *paysvc.Service
	fulfillment *fulfillsvc.Service
}

func NewPaymentHandler(payments *paysvc.Service, fulfillment *fulfillsvc.Service) *PaymentHandler {
	return &PaymentHandler{
		payments:    payments,
		fulfillment: fulfillment,
	}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.PaymentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	view, err := h.payments.Create(r.Context(), identity.ResellerID, req.PackageID)
	if err != nil {
		switch {
		case errors.Is(err, paysvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid payment create payload")
		case errors.Is(err, paysvc.ErrPackageNotFound):
			writeNotFound(w, "PACKAGE_NOT_FOUND", "package not found")
		case errors.Is(err, paysvc.ErrPackageNotAvailable):
			writeConflict(w, "PACKAGE_NOT_AVAILABLE", "package is not available for purchase")
		case errors.Is(err, paysvc.ErrResellerInactive):
			writeForbidden(w, "ACCOUNT_SUSPENDED", "account is not active")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create payment")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, paymentResponse(view))
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	paymentID, ok := paymentIDFromURL(r)
	if !ok {
		writeBadRequest(w, "INVALID_REQUEST", "invalid payment id")
		return
	}

	view, err := h.payments.Get(r.Context(), paymentID, scopeFor(identity))
	if err != nil {
		switch {
		case errors.Is(err, paysvc.ErrValidation):
			writeBadRequest(w, "INVALID_REQUEST", "invalid payment id")
		case errors.Is(err, paysvc.ErrPaymentNotFound):
			writeNotFound(w, "PAYMENT_NOT_FOUND", "payment not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load payment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, paymentResponse(view))
}

func (h *PaymentHandler) Packages(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	records, err := h.payments.ListPackages(r.Context(), identity.ResellerID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to list packages")
		return
	}

	resp := dto.PackageListResponse{Packages: make([]dto.PackageResponse, 0, len(records))}
	for _, record := range records {
		resp.Packages = append(resp.Packages, dto.PackageResponse{
			ID:         record.ID,
			Credits:    record.Credits,
			PriceCents: record.PriceCents,
			Active:     record.Active,
		})
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// Webhook is the unauthenticated provider callback; everything it learns from
// the body is a provider_ref that still has to match a stored payment.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.PaymentWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.payments.ConfirmByProviderRef(r.Context(), req.ProviderRef)
	if err != nil {
		switch {
		case errors.Is(err, paysvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid webhook payload")
		case errors.Is(err, paysvc.ErrPaymentNotFound):
			writeNotFound(w, "PAYMENT_NOT_FOUND", "payment not found")
		case errors.Is(err, fulfillsvc.ErrNotRetriable):
			writeConflict(w, "PAYMENT_NOT_CONFIRMABLE", "payment can no longer be confirmed")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process webhook")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PaymentWebhookResponse{
		OK:         true,
		PaymentID:  result.PaymentID,
		Status:     string(result.Status),
		Credited:   result.Credited,
		Idempotent: result.AlreadyProcessed,
	})
}

func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil || h.fulfillment == nil {
		writeInternal(w, "FULFILLMENT_SERVICE_UNAVAILABLE", "fulfillment service is unavailable")
		return
	}

	paymentID, ok := paymentIDFromURL(r)
	if !ok {
		writeBadRequest(w, "INVALID_REQUEST", "invalid payment id")
		return
	}

	// Ownership check first so foreign payments 404 instead of 409.
	if _, err := h.payments.Get(r.Context(), paymentID, scopeFor(identity)); err != nil {
		switch {
		case errors.Is(err, paysvc.ErrPaymentNotFound):
			writeNotFound(w, "PAYMENT_NOT_FOUND", "payment not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load payment")
		}
		return
	}

	outcome, err := h.fulfillment.Retry(r.Context(), paymentID)
	if err != nil {
		handleFulfillmentError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.RetryResponse{
		PaymentID: outcome.PaymentID,
		Status:    string(outcome.Status),
		Attempts:  outcome.Attempts,
		Succeeded: outcome.Succeeded,
	})
}

func handleFulfillmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fulfillsvc.ErrPaymentNotFound):
		writeNotFound(w, "PAYMENT_NOT_FOUND", "payment not found")
	case errors.Is(err, fulfillsvc.ErrNotRetriable):
		writeConflict(w, "PAYMENT_NOT_RETRIABLE", "payment is not in a retriable state")
	case errors.Is(err, fulfillsvc.ErrFulfillmentInProgress):
		writeConflict(w, "FULFILLMENT_IN_PROGRESS", "fulfillment already in progress")
	case errors.Is(err, fulfillsvc.ErrPanelMisconfigured):
		writeInternal(w, "PANEL_MISCONFIGURED", "panel configuration error")
	default:
		writeInternal(w, "INTERNAL_ERROR", "fulfillment failed")
	}
}

func paymentResponse(view paysvc.PaymentView) dto.PaymentResponse {
	return dto.PaymentResponse{
		ID:          view.ID,
		PackageID:   view.PackageID,
		Credits:     view.Credits,
		PriceCents:  view.PriceCents,
		ProviderRef: view.ProviderRef,
		QRCode:      view.QRCode,
		Status:      string(view.Status),
		CreatedAt:   view.CreatedAt,
		ExpiresAt:   view.ExpiresAt,
		PaidAt:      view.PaidAt,
	}
}

func paymentIDFromURL(r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	paymentID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || paymentID <= 0 {
		return 0, false
	}
	return paymentID, true
}

func scopeFor(identity authsvc.Identity) *int64 {
	if identity.Role.Operator() {
		return nil
	}
	resellerID := identity.ResellerID
	return &resellerID
}
