package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Charge is an issued PIX charge: the provider's transaction id plus the
// copy-and-paste QR payload the storefront renders.
type Charge struct {
	ProviderRef string
	QRCode      string
	ExpiresAt   time.Time
}

// ChargeProvider issues PIX charges and answers settlement queries. Production
// providers implement this; SandboxProvider covers development.
type ChargeProvider interface {
	CreateCharge(ctx context.Context, amountCents int, ref string) (Charge, error)
	Status(ctx context.Context, providerRef string) (bool, error)
}

// SandboxProvider talks to the development PIX emulator over plain JSON.
type SandboxProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSandboxProvider(baseURL, apiKey string, client *http.Client) *SandboxProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SandboxProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type sandboxChargeRequest struct {
	AmountCents int    `json:"amount_cents"`
	Reference   string `json:"reference"`
}

type sandboxChargeResponse struct {
	TxID      string    `json:"txid"`
	QRCode    string    `json:"qr_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sandboxStatusResponse struct {
	Status string `json:"status"`
}

func (p *SandboxProvider) CreateCharge(ctx context.Context, amountCents int, ref string) (Charge, error) {
	if amountCents <= 0 {
		return Charge{}, fmt.Errorf("charge amount must be positive")
	}

	body, err := json.Marshal(sandboxChargeRequest{AmountCents: amountCents, Reference: ref})
	if err != nil {
		return Charge{}, fmt.Errorf("marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return Charge{}, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Charge{}, fmt.Errorf("create charge: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Charge{}, fmt.Errorf("read charge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Charge{}, fmt.Errorf("charge provider returned status %d", resp.StatusCode)
	}

	var payload sandboxChargeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Charge{}, fmt.Errorf("decode charge response: %w", err)
	}
	if strings.TrimSpace(payload.TxID) == "" {
		return Charge{}, fmt.Errorf("charge provider returned no transaction id")
	}

	return Charge{
		ProviderRef: payload.TxID,
		QRCode:      payload.QRCode,
		ExpiresAt:   payload.ExpiresAt,
	}, nil
}

func (p *SandboxProvider) Status(ctx context.Context, providerRef string) (bool, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return false, fmt.Errorf("provider ref is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/charges/"+providerRef, nil)
	if err != nil {
		return false, fmt.Errorf("build status request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("query charge status: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("charge provider returned status %d", resp.StatusCode)
	}

	var payload sandboxStatusResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, fmt.Errorf("decode status response: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(payload.Status)) {
	case "paid", "settled", "concluded":
		return true, nil
	default:
		return false, nil
	}
}
