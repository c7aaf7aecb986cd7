package port

import (
	"context"

	"github.com/rl1809/dealership/internal/core/domain"
)

type PaymentGateway interface {
	// CreateIntent fails with domain.GatewayError when amountMinor is above the processor ceiling
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*domain.Intent, error)

	// RetrieveIntent fails with domain.NotFoundError when the processor does not know the id
	RetrieveIntent(ctx context.Context, intentID string) (*domain.Intent, error)

	RetrievePaymentMethod(ctx context.Context, paymentMethodID string) (*domain.PaymentMethodDetails, error)

	// ParseWebhook verifies the callback signature; failures match domain.ErrUnauthorized
	ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error)
}
