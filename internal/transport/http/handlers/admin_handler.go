package handlers

import (
	"errors"
	"io"
	"net/http"

	authsvc "github.com/sinhamoca/verificacao-sub002/internal/services/auth"
	fulfillsvc "github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
	"github.com/sinhamoca/verificacao-sub002/internal/transport/http/dto"
	httperrors "github.com/sinhamoca/verificacao-sub002/internal/transport/http/errors"
)

type AdminHandler struct {
	fulfillment *fulfillsvc.Service
}

func NewAdminHandler(fulfillment *fulfillsvc.Service) *AdminHandler {
	return &AdminHandler{fulfillment: fulfillment}
}

func (h *AdminHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if !identity.Role.Operator() {
		writeForbidden(w, "FORBIDDEN", "operator role required")
		return
	}
	if h.fulfillment == nil {
		writeInternal(w, "FULFILLMENT_SERVICE_UNAVAILABLE", "fulfillment service is unavailable")
		return
	}

	// The scope body is optional; an empty body means the whole platform.
	var req dto.BulkRetryRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	summary, err := h.fulfillment.RetryAllErrors(r.Context(), req.ResellerID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "bulk retry failed")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.BulkRetryResponse{
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	})
}
