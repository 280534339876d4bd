package model

import "time"

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Transition validates moving a payment from s to next.
func (s PaymentStatus) Transition(next PaymentStatus) error {
	return transition("payment", paymentTransitions, s, next)
}

// Payment is a simulated gateway charge.  Only a completed payment may back
// a confirmed booking and only a completed payment may be refunded.
type Payment struct {
	ID        uint64        `json:"payment_id"` // payments.payment_id
	Amount    Money         `json:"amount"`     // payments.amount_cents
	Status    PaymentStatus `json:"status"`     // payments.status
	CreatedBy *uint64       `json:"created_by"` // payments.created_by (nullable)
	IsDeleted bool          `json:"-"`          // payments.is_deleted
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
