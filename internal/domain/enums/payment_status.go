package enums

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusCredited PaymentStatus = "credited"
	PaymentStatusError    PaymentStatus = "error"
	PaymentStatusExpired  PaymentStatus = "expired"
)

// Terminal reports whether no further fulfillment is possible for the status.
// Error is deliberately non-terminal: it stays retriable until it succeeds.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCredited || s == PaymentStatusExpired
}
