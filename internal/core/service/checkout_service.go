package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

const (
	EffectSavePaymentMethod = "save_payment_method"
	EffectInvalidateCache   = "invalidate_cache"
	EffectConfirmationEmail = "confirmation_email"
	EffectPublishEvent      = "publish_event"
)

// ConfirmationSender sends the one-time purchase confirmation for a sale.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, saleID string) (bool, error)
}

type CheckoutDeps struct {
	Inventory port.InventoryRepository
	Sales     port.SaleRepository
	Gateway   port.PaymentGateway
	CarCache  port.CarCache
	Notifier  ConfirmationSender
	Events    port.SaleEventPublisher
	Currency  string
	Logger    *zap.Logger
}

type CheckoutService struct {
	inventory port.InventoryRepository
	sales     port.SaleRepository
	gateway   port.PaymentGateway
	carCache  port.CarCache
	notifier  ConfirmationSender
	events    port.SaleEventPublisher
	currency  string
	logger    *zap.Logger
	now       func() time.Time
}

func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	currency := deps.Currency
	if currency == "" {
		currency = "usd"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		inventory: deps.Inventory,
		sales:     deps.Sales,
		gateway:   deps.Gateway,
		carCache:  deps.CarCache,
		notifier:  deps.Notifier,
		events:    deps.Events,
		currency:  strings.ToLower(currency),
		logger:    logger,
		now:       time.Now,
	}
}

type CreateIntentInput struct {
	CarIDs          []string
	DeliveryAddress string
	PaymentType     domain.PaymentType
}

type IntentResult struct {
	ClientSecret    string
	PaymentIntentID string
	SaleID          string
	Amount          decimal.Decimal
	Currency        string
}

// CreateIntent prices the requested cars, opens a payment intent for the
// total and records a pending sale against it. Stock is not touched until
// the payment is confirmed.
func (s *CheckoutService) CreateIntent(ctx context.Context, buyer domain.User, in CreateIntentInput) (*IntentResult, error) {
	if buyer.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := validateCarIDs(in.CarIDs); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return nil, &domain.ValidationError{Field: "deliveryAddress", Reason: "is required"}
	}
	if !in.PaymentType.Valid() {
		return nil, &domain.ValidationError{Field: "paymentType", Reason: "is not supported"}
	}

	cars, err := s.loadAvailable(ctx, in.CarIDs)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, car := range cars {
		total = total.Add(car.Price)
	}
	if total.GreaterThan(domain.MaxAmount) {
		return nil, &domain.LimitExceededError{Amount: total, Limit: domain.MaxAmount}
	}

	intent, err := s.gateway.CreateIntent(ctx, domain.ToMinorUnits(total), s.currency, map[string]string{
		"buyer_id": buyer.ID,
		"car_ids":  strings.Join(in.CarIDs, ","),
	})
	if err != nil {
		return nil, gatewayErr("create intent", err)
	}

	now := s.now().UTC()
	sale := &domain.Sale{
		ID:              uuid.New().String(),
		BuyerID:         buyer.ID,
		BuyerEmail:      buyer.Email,
		BuyerName:       buyer.Name,
		Price:           total,
		PaymentType:     in.PaymentType,
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		PaymentIntentID: intent.ID,
		Status:          domain.SaleStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Items:           saleItems(cars),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
	}
	if err := s.sales.CreateSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}

	s.logger.Info("payment intent created",
		zap.String("sale_id", sale.ID),
		zap.String("intent_id", intent.ID),
		zap.String("amount", total.StringFixed(2)),
	)
	if err := s.publish(ctx, domain.SaleEventCreated, sale); err != nil {
		s.logger.Warn("publish sale event failed", zap.String("sale_id", sale.ID), zap.Error(err))
	}

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		SaleID:          sale.ID,
		Amount:          total,
		Currency:        s.currency,
	}, nil
}

type PurchaseItem struct {
	CarID    string
	Price    *decimal.Decimal
	Quantity int
}

type CustomerInfo struct {
	Name            string
	Email           string
	Phone           string
	DeliveryAddress string
	DeliveryDate    *time.Time
}

type CompletePurchaseInput struct {
	Items             []PurchaseItem
	PaymentType       domain.PaymentType
	Customer          CustomerInfo
	PaymentIntentID   string
	SavePaymentMethod bool
}

// SecondaryFailure is a follow-up effect that failed after the purchase
// itself was committed.
type SecondaryFailure struct {
	Effect string
	Err    error
}

type PurchaseResult struct {
	Sale     *domain.Sale
	Warnings []SecondaryFailure
}

// CompletePurchase confirms payment and commits the sale. The sale write and
// the stock flips happen in one transaction, so two buyers racing for the
// same car cannot both succeed.
func (s *CheckoutService) CompletePurchase(ctx context.Context, buyer domain.User, in CompletePurchaseInput) (*PurchaseResult, error) {
	if buyer.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	carIDs, err := validatePurchase(in)
	if err != nil {
		return nil, err
	}

	var existing *domain.Sale
	if in.PaymentIntentID != "" {
		existing, err = s.sales.GetSaleByIntentID(ctx, in.PaymentIntentID)
		if err != nil {
			return nil, fmt.Errorf("get sale by intent: %w", err)
		}
		if existing != nil {
			if existing.BuyerID != buyer.ID {
				return nil, &domain.NotFoundError{Resource: "payment intent"}
			}
			if existing.Status == domain.SaleStatusCompleted && existing.PaymentStatus == domain.PaymentStatusSucceeded {
				return &PurchaseResult{Sale: existing}, nil
			}
			if existing.Status == domain.SaleStatusCancelled {
				return nil, &domain.ConflictError{Reason: "sale for this payment was cancelled"}
			}
		}
	}

	cars, err := s.loadAvailable(ctx, carIDs)
	if err != nil {
		return s.settledElsewhere(ctx, buyer, in.PaymentIntentID, err)
	}
	total := decimal.Zero
	for i, car := range cars {
		if p := in.Items[i].Price; p != nil && !p.Equal(car.Price) {
			return nil, &domain.ValidationError{
				Field:  fmt.Sprintf("items[%d].price", i),
				Reason: "does not match the current listing price",
			}
		}
		total = total.Add(car.Price)
	}

	var intent *domain.Intent
	if in.PaymentIntentID != "" {
		intent, err = s.gateway.RetrieveIntent(ctx, in.PaymentIntentID)
		if err != nil {
			return nil, gatewayErr("retrieve intent", err)
		}
		if owner := intent.Metadata["buyer_id"]; owner != "" && owner != buyer.ID {
			return nil, &domain.NotFoundError{Resource: "payment intent"}
		}
		if intent.Status != domain.IntentStatusSucceeded {
			return nil, &domain.PaymentNotCompletedError{IntentID: intent.ID, Status: intent.Status}
		}
		if intent.AmountMinor != domain.ToMinorUnits(total) {
			return nil, &domain.ValidationError{Field: "paymentIntentId", Reason: "amount does not match the order total"}
		}
	}

	now := s.now().UTC()
	sale := &domain.Sale{
		ID:              uuid.New().String(),
		BuyerID:         buyer.ID,
		BuyerEmail:      firstNonEmpty(in.Customer.Email, buyer.Email),
		BuyerName:       firstNonEmpty(in.Customer.Name, buyer.Name),
		Price:           total,
		PaymentType:     in.PaymentType,
		DeliveryAddress: strings.TrimSpace(in.Customer.DeliveryAddress),
		DeliveryDate:    in.Customer.DeliveryDate,
		PaymentIntentID: in.PaymentIntentID,
		Status:          domain.SaleStatusCompleted,
		PaymentStatus:   domain.PaymentStatusSucceeded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		sale.ID = existing.ID
		sale.CreatedAt = existing.CreatedAt
	}
	sale.Items = saleItems(cars)
	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
	}

	if err := s.sales.FinalizePurchase(ctx, sale); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.settledElsewhere(ctx, buyer, in.PaymentIntentID, err)
		}
		return nil, fmt.Errorf("finalize purchase: %w", err)
	}
	s.logger.Info("purchase completed",
		zap.String("sale_id", sale.ID),
		zap.String("buyer_id", buyer.ID),
		zap.Int("items", len(sale.Items)),
	)

	result := &PurchaseResult{Sale: sale}
	warn := func(effect string, err error) {
		s.logger.Warn("purchase follow-up failed",
			zap.String("effect", effect),
			zap.String("sale_id", sale.ID),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, SecondaryFailure{Effect: effect, Err: err})
	}

	if in.SavePaymentMethod && in.PaymentType == domain.PaymentTypeCreditCard {
		if err := s.savePaymentMethod(ctx, buyer.ID, intent); err != nil {
			warn(EffectSavePaymentMethod, err)
		}
	}
	if s.carCache != nil {
		if err := s.carCache.InvalidateCars(ctx, carIDs...); err != nil {
			warn(EffectInvalidateCache, err)
		}
	}
	if s.notifier != nil {
		if sent, err := s.notifier.SendConfirmation(ctx, sale.ID); err != nil {
			warn(EffectConfirmationEmail, err)
		} else if sent {
			sale.EmailSent = true
		}
	}
	if err := s.publish(ctx, domain.SaleEventCompleted, sale); err != nil {
		warn(EffectPublishEvent, err)
	}

	return result, nil
}

func (s *CheckoutService) savePaymentMethod(ctx context.Context, userID string, intent *domain.Intent) error {
	if intent == nil || intent.PaymentMethodID == "" {
		return errors.New("no payment method attached to the payment")
	}
	details, err := s.gateway.RetrievePaymentMethod(ctx, intent.PaymentMethodID)
	if err != nil {
		return gatewayErr("retrieve payment method", err)
	}

	existing, err := s.sales.ListPaymentMethods(ctx, userID)
	if err != nil {
		return fmt.Errorf("list payment methods: %w", err)
	}

	method := &domain.PaymentMethod{
		ID:             uuid.New().String(),
		UserID:         userID,
		Type:           details.Type,
		Brand:          details.Brand,
		MaskedNumber:   maskCardNumber(details.Last4),
		ExpiryMonth:    details.ExpiryMonth,
		ExpiryYear:     details.ExpiryYear,
		CardholderName: details.CardholderName,
		IsDefault:      len(existing) == 0,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.sales.SavePaymentMethod(ctx, method); err != nil {
		return fmt.Errorf("save payment method: %w", err)
	}
	return nil
}

// loadAvailable returns the cars in the order requested, or a NotFoundError
// counting ids that are unknown or already sold.
func (s *CheckoutService) loadAvailable(ctx context.Context, ids []string) ([]domain.Car, error) {
	found, err := s.inventory.GetCarsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load cars: %w", err)
	}
	byID := make(map[string]domain.Car, len(found))
	for _, car := range found {
		byID[car.ID] = car
	}

	cars := make([]domain.Car, 0, len(ids))
	unavailable := 0
	for _, id := range ids {
		car, ok := byID[id]
		if !ok || !car.InStock {
			unavailable++
			continue
		}
		cars = append(cars, car)
	}
	if unavailable > 0 {
		return nil, &domain.NotFoundError{Resource: "car", Count: unavailable}
	}
	return cars, nil
}

// settledElsewhere turns a sold-out error into an idempotent replay when the
// payment webhook completed this buyer's sale in the meantime.
func (s *CheckoutService) settledElsewhere(ctx context.Context, buyer domain.User, intentID string, cause error) (*PurchaseResult, error) {
	if intentID == "" || !errors.Is(cause, domain.ErrNotFound) {
		return nil, cause
	}
	sale, err := s.sales.GetSaleByIntentID(ctx, intentID)
	if err != nil {
		s.logger.Warn("reload sale by intent failed", zap.String("intent_id", intentID), zap.Error(err))
		return nil, cause
	}
	if sale == nil || sale.BuyerID != buyer.ID ||
		sale.Status != domain.SaleStatusCompleted || sale.PaymentStatus != domain.PaymentStatusSucceeded {
		return nil, cause
	}
	s.logger.Info("purchase already settled by webhook", zap.String("sale_id", sale.ID), zap.String("intent_id", intentID))
	return &PurchaseResult{Sale: sale}, nil
}

func (s *CheckoutService) publish(ctx context.Context, t domain.SaleEventType, sale *domain.Sale) error {
	if s.events == nil {
		return nil
	}
	return s.events.Publish(ctx, domain.NewSaleEvent(t, sale))
}

func validateCarIDs(ids []string) error {
	if len(ids) == 0 {
		return &domain.ValidationError{Field: "carIds", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return &domain.ValidationError{Field: "carIds", Reason: "must not contain empty ids"}
		}
		if _, dup := seen[id]; dup {
			return &domain.ValidationError{Field: "carIds", Reason: "must not contain duplicates"}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func validatePurchase(in CompletePurchaseInput) ([]string, error) {
	if len(in.Items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Reason: "must not be empty"}
	}
	ids := make([]string, len(in.Items))
	for i, item := range in.Items {
		if item.Quantity < 0 || item.Quantity > 1 {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be 1"}
		}
		if item.Price != nil && !item.Price.IsPositive() {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].price", i), Reason: "must be positive"}
		}
		ids[i] = item.CarID
	}
	if err := validateCarIDs(ids); err != nil {
		return nil, &domain.ValidationError{Field: "items", Reason: strings.TrimPrefix(err.Error(), "carIds ")}
	}
	if !in.PaymentType.Valid() {
		return nil, &domain.ValidationError{Field: "paymentType", Reason: "is not supported"}
	}
	if strings.TrimSpace(in.Customer.DeliveryAddress) == "" {
		return nil, &domain.ValidationError{Field: "customerInfo.deliveryAddress", Reason: "is required"}
	}
	if in.PaymentType == domain.PaymentTypeCreditCard && in.PaymentIntentID == "" {
		return nil, &domain.ValidationError{Field: "paymentIntentId", Reason: "is required for card payments"}
	}
	return ids, nil
}

func saleItems(cars []domain.Car) []domain.SaleItem {
	items := make([]domain.SaleItem, len(cars))
	for i, car := range cars {
		items[i] = domain.SaleItem{
			ID:    uuid.New().String(),
			CarID: car.ID,
			Price: car.Price,
			Make:  car.Make,
			Model: car.Model,
			Year:  car.Year,
		}
	}
	return items
}

// gatewayErr keeps typed not-found and gateway errors and wraps anything
// else as a GatewayError.
func gatewayErr(op string, err error) error {
	if errors.Is(err, domain.ErrGateway) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return &domain.GatewayError{Op: op, Err: err}
}

func maskCardNumber(last4 string) string {
	if last4 == "" {
		return ""
	}
	return "**** **** **** " + last4
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
