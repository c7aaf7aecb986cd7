package domain

import "github.com/shopspring/decimal"

// MaxAmount is the processor ceiling for a single charge, in major units.
var MaxAmount = decimal.RequireFromString("999999.99")

const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusCanceled              = "canceled"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

type Intent struct {
	ID              string
	ClientSecret    string
	Status          string
	AmountMinor     int64
	Currency        string
	PaymentMethodID string
	LastError       string
	Metadata        map[string]string
}

type PaymentMethodDetails struct {
	ID             string
	Type           string
	Brand          string
	Last4          string
	ExpiryMonth    int
	ExpiryYear     int
	CardholderName string
}

type WebhookEvent struct {
	ID            string
	Type          string
	IntentID      string
	FailureReason string
}

// ToMinorUnits converts a major-unit amount to the integer cents the
// processor expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
