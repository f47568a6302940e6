package dto

type RetryResponse struct {
	PaymentID int64  `json:"payment_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Succeeded bool   `json:"succeeded"`
}

type BulkRetryRequest struct {
	ResellerID *int64 `json:"reseller_id,omitempty"`
}

type BulkRetryResponse struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
