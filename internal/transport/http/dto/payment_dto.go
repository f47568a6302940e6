package dto

import "time"

type PaymentCreateRequest struct {
	PackageID int64 `json:"package_id"`
}

type PaymentResponse struct {
	ID          int64      `json:"id"`
	PackageID   int64      `json:"package_id"`
	Credits     int        `json:"credits"`
	PriceCents  int        `json:"price_cents"`
	ProviderRef string     `json:"provider_ref"`
	QRCode      string     `json:"qr_code"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

type PaymentWebhookRequest struct {
	ProviderRef string `json:"provider_ref"`
}

type PaymentWebhookResponse struct {
	OK         bool   `json:"ok"`
	PaymentID  int64  `json:"payment_id"`
	Status     string `json:"status"`
	Credited   bool   `json:"credited"`
	Idempotent bool   `json:"idempotent"`
}

type PackageResponse struct {
	ID         int64 `json:"id"`
	Credits    int   `json:"credits"`
	PriceCents int   `json:"price_cents"`
	Active     bool  `json:"active"`
}

type PackageListResponse struct {
	Packages []PackageResponse `json:"packages"`
}
