package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

const (
	emailLockKeyPrefix = "email:sale:"
	emailLockTTL       = 24 * time.Hour
)

// NotificationService sends at most one confirmation email per sale.
type NotificationService struct {
	sales  port.SaleRepository
	cache  port.CacheRepository
	mailer port.Mailer
	logger *zap.Logger
}

func NewNotificationService(sales port.SaleRepository, cache port.CacheRepository, mailer port.Mailer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		sales:  sales,
		cache:  cache,
		mailer: mailer,
		logger: logger,
	}
}

// SendConfirmation reports sent=false without error when the email already
// went out or another caller is sending it right now.
func (s *NotificationService) SendConfirmation(ctx context.Context, saleID string) (bool, error) {
	sale, err := s.sales.GetSale(ctx, saleID)
	if err != nil {
		return false, fmt.Errorf("get sale: %w", err)
	}
	if sale == nil {
		return false, &domain.NotFoundError{Resource: "sale"}
	}
	if sale.EmailSent {
		return false, nil
	}
	if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusDelivered {
		return false, &domain.ConflictError{Reason: "sale is not completed"}
	}
	if sale.BuyerEmail == "" {
		return false, &domain.ValidationError{Field: "email", Reason: "is missing for this sale"}
	}

	key := emailLockKeyPrefix + sale.ID
	if s.cache != nil {
		ok, err := s.cache.SetIdempotency(ctx, key, emailLockTTL)
		if err != nil {
			return false, fmt.Errorf("acquire email lock: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	subject := fmt.Sprintf("Your purchase is confirmed (order %s)", shortID(sale.ID))
	if err := s.mailer.Send(ctx, sale.BuyerEmail, subject, renderReceipt(sale)); err != nil {
		if s.cache != nil {
			if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
				s.logger.Warn("release email lock failed", zap.String("sale_id", sale.ID), zap.Error(relErr))
			}
		}
		return false, fmt.Errorf("send confirmation: %w", err)
	}

	// The lock stays held if this fails, which prevents a resend.
	if err := s.sales.MarkEmailSent(ctx, sale.ID); err != nil {
		return true, fmt.Errorf("mark email sent: %w", err)
	}
	s.logger.Info("confirmation email sent", zap.String("sale_id", sale.ID))
	return true, nil
}

func renderReceipt(sale *domain.Sale) string {
	var b strings.Builder
	name := sale.BuyerName
	if name == "" {
		name = "customer"
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "Thank you for your purchase. Order %s is confirmed.\n\n", sale.ID)
	for _, item := range sale.Items {
		fmt.Fprintf(&b, "  %d %s %s  %s\n", item.Year, item.Make, item.Model, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", sale.Price.StringFixed(2))
	fmt.Fprintf(&b, "Payment: %s\n", sale.PaymentType)
	fmt.Fprintf(&b, "Delivery address: %s\n", sale.DeliveryAddress)
	if sale.DeliveryDate != nil {
		fmt.Fprintf(&b, "Delivery date: %s\n", sale.DeliveryDate.Format("2006-01-02"))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
