package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

// SaleService is the query and admin side of the sale ledger.
type SaleService struct {
	sales    port.SaleRepository
	carCache port.CarCache
	events   port.SaleEventPublisher
	logger   *zap.Logger
}

func NewSaleService(sales port.SaleRepository, carCache port.CarCache, events port.SaleEventPublisher, logger *zap.Logger) *SaleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleService{sales: sales, carCache: carCache, events: events, logger: logger}
}

type ProfileBundle struct {
	Purchases      []domain.Sale
	PaymentMethods []domain.PaymentMethod
	Privacy        domain.PrivacySettings
}

func (s *SaleService) GetSale(ctx context.Context, requester domain.User, id string) (*domain.Sale, error) {
	sale, err := s.sales.GetSale(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if sale == nil || !requester.CanAccess(sale.BuyerID) {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	return sale, nil
}

func (s *SaleService) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &domain.ValidationError{Field: "status", Reason: "is not supported"}
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, 0, &domain.ValidationError{Field: "paymentStatus", Reason: "is not supported"}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, &domain.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	filter.Page, filter.PageSize = domain.NormalizePage(filter.Page, filter.PageSize)
	return s.sales.ListSales(ctx, filter)
}

// Profile bundles a buyer's purchases, saved payment methods and privacy
// settings.
func (s *SaleService) Profile(ctx context.Context, user domain.User) (*ProfileBundle, error) {
	if user.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	purchases, _, err := s.sales.ListSales(ctx, domain.SaleFilter{BuyerID: user.ID, Page: 1, PageSize: domain.MaxPageSize})
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	methods, err := s.sales.ListPaymentMethods(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	privacy, err := s.sales.GetPrivacySettings(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get privacy settings: %w", err)
	}
	bundle := &ProfileBundle{Purchases: purchases, PaymentMethods: methods}
	if privacy != nil {
		bundle.Privacy = *privacy
	} else {
		bundle.Privacy = domain.DefaultPrivacySettings(user.ID)
	}
	return bundle, nil
}

func (s *SaleService) UpdatePrivacy(ctx context.Context, user domain.User, settings domain.PrivacySettings) (*domain.PrivacySettings, error) {
	if user.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	settings.UserID = user.ID
	settings.UpdatedAt = time.Now().UTC()
	if err := s.sales.SavePrivacySettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save privacy settings: %w", err)
	}
	return &settings, nil
}

// UpdateStatus applies an admin status change such as delivery or
// cancellation.
func (s *SaleService) UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) (*domain.Sale, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "is not supported"}
	}
	sale, err := s.sales.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sale status changed", zap.String("sale_id", id), zap.String("status", string(status)))

	if status == domain.SaleStatusCancelled && s.carCache != nil {
		if err := s.carCache.InvalidateCars(ctx, sale.CarIDs()...); err != nil {
			s.logger.Warn("invalidate cars failed", zap.String("sale_id", id), zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, domain.NewSaleEvent(domain.SaleEventStatusChanged, sale)); err != nil {
			s.logger.Warn("publish sale event failed", zap.String("sale_id", id), zap.Error(err))
		}
	}
	return sale, nil
}

// ResolveConfirmationTarget finds the sale a confirmation email request
// refers to, either by payment intent or as the user's latest completed
// purchase.
func (s *SaleService) ResolveConfirmationTarget(ctx context.Context, requester domain.User, intentID, userID string) (*domain.Sale, error) {
	if requester.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	switch {
	case intentID != "":
		sale, err := s.sales.GetSaleByIntentID(ctx, intentID)
		if err != nil {
			return nil, fmt.Errorf("get sale by intent: %w", err)
		}
		if sale == nil || !requester.CanAccess(sale.BuyerID) {
			return nil, &domain.NotFoundError{Resource: "sale"}
		}
		return sale, nil
	case userID != "":
		if !requester.CanAccess(userID) {
			return nil, domain.ErrForbidden
		}
		sales, _, err := s.sales.ListSales(ctx, domain.SaleFilter{
			BuyerID:  userID,
			Status:   domain.SaleStatusCompleted,
			Page:     1,
			PageSize: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("list sales: %w", err)
		}
		if len(sales) == 0 {
			return nil, &domain.NotFoundError{Resource: "sale"}
		}
		return &sales[0], nil
	}
	return nil, &domain.ValidationError{Reason: "paymentIntentId or userId is required"}
}
