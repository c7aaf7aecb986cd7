package port

import (
	"context"

	"github.com/rl1809/dealership/internal/core/domain"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SaleEventPublisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
}
