package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleEventType string

const (
	SaleEventCreated       SaleEventType = "sale.created"
	SaleEventCompleted     SaleEventType = "sale.completed"
	SaleEventPaymentFailed SaleEventType = "sale.payment_failed"
	SaleEventStatusChanged SaleEventType = "sale.status_changed"
)

type SaleEvent struct {
	Type          SaleEventType   `json:"type"`
	SaleID        string          `json:"sale_id"`
	BuyerID       string          `json:"buyer_id"`
	Price         decimal.Decimal `json:"price"`
	Status        SaleStatus      `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewSaleEvent(t SaleEventType, sale *Sale) SaleEvent {
	return SaleEvent{
		Type:          t,
		SaleID:        sale.ID,
		BuyerID:       sale.BuyerID,
		Price:         sale.Price,
		Status:        sale.Status,
		PaymentStatus: sale.PaymentStatus,
		OccurredAt:    time.Now().UTC(),
	}
}
