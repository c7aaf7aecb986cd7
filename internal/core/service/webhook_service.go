package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

const (
	webhookEventKeyPrefix = "webhook:event:"
	webhookEventTTL       = 72 * time.Hour
)

type WebhookDeps struct {
	Gateway  port.PaymentGateway
	Sales    port.SaleRepository
	Cache    port.CacheRepository
	CarCache port.CarCache
	Notifier ConfirmationSender
	Events   port.SaleEventPublisher
	Logger   *zap.Logger
}

// WebhookService applies payment outcomes the gateway reports out of band.
type WebhookService struct {
	gateway  port.PaymentGateway
	sales    port.SaleRepository
	cache    port.CacheRepository
	carCache port.CarCache
	notifier ConfirmationSender
	events   port.SaleEventPublisher
	logger   *zap.Logger
}

func NewWebhookService(deps WebhookDeps) *WebhookService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		gateway:  deps.Gateway,
		sales:    deps.Sales,
		cache:    deps.Cache,
		carCache: deps.CarCache,
		notifier: deps.Notifier,
		events:   deps.Events,
		logger:   logger,
	}
}

// HandleEvent verifies and applies one callback. A nil return means the
// delivery should be acknowledged, including for unknown intents and
// ignored event types. Signature failures match domain.ErrUnauthorized.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		return err
	}

	if event.Type != domain.EventIntentSucceeded && event.Type != domain.EventIntentFailed {
		s.logger.Debug("webhook ignored", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}

	var key string
	if event.ID != "" && s.cache != nil {
		key = webhookEventKeyPrefix + event.ID
		ok, err := s.cache.SetIdempotency(ctx, key, webhookEventTTL)
		if err != nil {
			s.logger.Warn("webhook de-dup unavailable", zap.String("event_id", event.ID), zap.Error(err))
			key = ""
		} else if !ok {
			s.logger.Info("webhook replay skipped", zap.String("event_id", event.ID))
			return nil
		}
	}

	err = s.apply(ctx, event)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("webhook for unknown sale",
			zap.String("event_id", event.ID),
			zap.String("intent_id", event.IntentID),
		)
		return nil
	}
	if key != "" {
		if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
			s.logger.Warn("release webhook key failed", zap.String("event_id", event.ID), zap.Error(relErr))
		}
	}
	return fmt.Errorf("apply %s: %w", event.Type, err)
}

func (s *WebhookService) apply(ctx context.Context, event *domain.WebhookEvent) error {
	if event.IntentID == "" {
		return &domain.NotFoundError{Resource: "sale"}
	}

	if event.Type == domain.EventIntentFailed {
		applied, err := s.sales.ApplyPaymentOutcome(ctx, event.IntentID, domain.PaymentOutcome{
			Succeeded:     false,
			FailureReason: event.FailureReason,
		})
		if err != nil {
			return err
		}
		if !applied.Changed {
			s.logger.Info("payment failure ignored, payment already captured",
				zap.String("sale_id", applied.Sale.ID),
				zap.String("intent_id", event.IntentID),
			)
			return nil
		}
		s.logger.Info("payment failed",
			zap.String("sale_id", applied.Sale.ID),
			zap.String("intent_id", event.IntentID),
			zap.String("reason", event.FailureReason),
		)
		s.publish(ctx, domain.SaleEventPaymentFailed, applied.Sale)
		return nil
	}

	applied, err := s.sales.ApplyPaymentOutcome(ctx, event.IntentID, domain.PaymentOutcome{Succeeded: true})
	if err != nil {
		return err
	}
	sale := applied.Sale
	if applied.Oversold > 0 {
		s.logger.Error("paid sale includes cars sold elsewhere, refund required",
			zap.String("sale_id", sale.ID),
			zap.String("intent_id", event.IntentID),
			zap.Int("oversold", applied.Oversold),
		)
	}

	if applied.Changed {
		s.logger.Info("payment succeeded", zap.String("sale_id", sale.ID), zap.String("intent_id", event.IntentID))
		if s.carCache != nil {
			if err := s.carCache.InvalidateCars(ctx, sale.CarIDs()...); err != nil {
				s.logger.Warn("invalidate cars failed", zap.String("sale_id", sale.ID), zap.Error(err))
			}
		}
	}
	// no-op when checkout already sent it
	if s.notifier != nil && sale.Status == domain.SaleStatusCompleted {
		if _, err := s.notifier.SendConfirmation(ctx, sale.ID); err != nil {
			s.logger.Warn("confirmation email failed", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}
	if applied.Changed {
		s.publish(ctx, domain.SaleEventCompleted, sale)
	}
	return nil
}

func (s *WebhookService) publish(ctx context.Context, t domain.SaleEventType, sale *domain.Sale) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, domain.NewSaleEvent(t, sale)); err != nil {
		s.logger.Warn("publish sale event failed", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}
