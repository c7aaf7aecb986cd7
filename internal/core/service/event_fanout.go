package service

import (
	"context"
	"errors"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

// FanoutPublisher delivers each event to every publisher and joins their
// errors.
type FanoutPublisher struct {
	publishers []port.SaleEventPublisher
}

func NewFanoutPublisher(publishers ...port.SaleEventPublisher) *FanoutPublisher {
	var ps []port.SaleEventPublisher
	for _, p := range publishers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &FanoutPublisher{publishers: ps}
}

func (f *FanoutPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
