package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCreditCard   PaymentType = "CreditCard"
	PaymentTypeBankTransfer PaymentType = "BankTransfer"
	PaymentTypeFinancing    PaymentType = "Financing"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentTypeCreditCard, PaymentTypeBankTransfer, PaymentTypeFinancing:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusDelivered SaleStatus = "delivered"
)

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusCancelled, SaleStatusDelivered:
		return true
	}
	return false
}

// CanTransitionTo reports whether an admin may move a sale from s to next.
// Completion is not listed: only a confirmed payment completes a sale.
func (s SaleStatus) CanTransitionTo(next SaleStatus) bool {
	switch s {
	case SaleStatusPending:
		return next == SaleStatusCancelled
	case SaleStatusCompleted:
		return next == SaleStatusDelivered || next == SaleStatusCancelled
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed:
		return true
	}
	return false
}

type Sale struct {
	ID              string
	BuyerID         string
	BuyerEmail      string
	BuyerName       string
	Price           decimal.Decimal
	PaymentType     PaymentType
	DeliveryAddress string
	DeliveryDate    *time.Time
	PaymentIntentID string
	Status          SaleStatus
	PaymentStatus   PaymentStatus
	FailureReason   string
	EmailSent       bool
	Items           []SaleItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SaleItem keeps a snapshot of the car it refers to so receipts stay
// readable after the listing changes.
type SaleItem struct {
	ID     string
	SaleID string
	CarID  string
	Price  decimal.Decimal
	Make   string
	Model  string
	Year   int
}

func (s *Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Price)
	}
	return total
}

func (s *Sale) CarIDs() []string {
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.CarID
	}
	return ids
}

type SaleFilter struct {
	BuyerID       string
	Status        SaleStatus
	PaymentStatus PaymentStatus
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// PaymentOutcome is a final intent result reported by the gateway
// out of band.
type PaymentOutcome struct {
	Succeeded     bool
	FailureReason string
}

// AppliedOutcome is the sale after a payment outcome was recorded. Changed is
// false when the stored sale already reflected a captured payment. Oversold
// counts cars that had been sold to someone else before the payment landed.
type AppliedOutcome struct {
	Sale     *Sale
	Changed  bool
	Oversold int
}

type PaymentMethod struct {
	ID             string
	UserID         string
	Type           string
	Brand          string
	MaskedNumber   string
	ExpiryMonth    int
	ExpiryYear     int
	CardholderName string
	IsDefault      bool
	CreatedAt      time.Time
}

type PrivacySettings struct {
	UserID              string
	MarketingEmails     bool
	ShareWithPartners   bool
	ShowPurchaseHistory bool
	UpdatedAt           time.Time
}

func DefaultPrivacySettings(userID string) PrivacySettings {
	return PrivacySettings{UserID: userID, ShowPurchaseHistory: true}
}
