package models

import "time"

// Invoice records which account a generated payment request belongs to.
// The mapping is written when the invoice is created, so deposits are
// attributed by reference lookup rather than by parsing memo text.
type Invoice struct {
	Reference      string    `json:"reference"` // provider payment hash
	AccountID      string    `json:"accountId"`
	AmountSats     int64     `json:"amountSats"`
	PaymentRequest string    `json:"paymentRequest"`
	CreatedAt      time.Time `json:"createdAt"`
}
