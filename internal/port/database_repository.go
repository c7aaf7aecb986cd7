package port

import (
	"context"

	"github.com/rl1809/dealership/internal/core/domain"
)

type InventoryRepository interface {
	CreateCar(ctx context.Context, car domain.Car) error

	// UpdateCar overwrites the listing fields but never the in-stock flag;
	// returns domain.ErrNotFound if the car does not exist
	UpdateCar(ctx context.Context, car domain.Car) error

	// SetCarStock changes the in-stock flag under a row lock. Restocking a
	// car held by a completed or delivered sale fails with domain.ErrConflict
	SetCarStock(ctx context.Context, id string, inStock bool) error

	// DeleteCar refuses with domain.ErrConflict while any sale item references the car
	DeleteCar(ctx context.Context, id string) error

	// GetCar returns nil, nil when the car does not exist
	GetCar(ctx context.Context, id string) (*domain.Car, error)

	GetCarsByIDs(ctx context.Context, ids []string) ([]domain.Car, error)

	ListCars(ctx context.Context, filter domain.CarFilter) ([]domain.Car, int, error)
}

type SaleRepository interface {
	// CreateSale persists a sale and its items in one transaction
	CreateSale(ctx context.Context, sale *domain.Sale) error

	// GetSale returns nil, nil when the sale does not exist
	GetSale(ctx context.Context, id string) (*domain.Sale, error)

	// GetSaleByIntentID returns nil, nil when no sale references the intent
	GetSaleByIntentID(ctx context.Context, intentID string) (*domain.Sale, error)

	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)

	// FinalizePurchase marks the sale completed and flips every car out of
	// stock atomically; nothing is written if any car is already sold
	FinalizePurchase(ctx context.Context, sale *domain.Sale) error

	// ApplyPaymentOutcome records an out-of-band intent result. On success
	// the sale's cars are flipped out of stock in the same transaction. A
	// sale whose payment is already captured is returned unchanged
	ApplyPaymentOutcome(ctx context.Context, intentID string, outcome domain.PaymentOutcome) (*domain.AppliedOutcome, error)

	// UpdateStatus applies an admin transition; cancelling a completed sale restocks its cars
	UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) (*domain.Sale, error)

	MarkEmailSent(ctx context.Context, id string) error

	SavePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error
	ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error)

	GetPrivacySettings(ctx context.Context, userID string) (*domain.PrivacySettings, error)
	SavePrivacySettings(ctx context.Context, settings domain.PrivacySettings) error
}

type VerificationRepository interface {
	CreateVerification(ctx context.Context, req domain.VerificationRequest) error

	// GetVerification returns nil, nil when the request does not exist
	GetVerification(ctx context.Context, id string) (*domain.VerificationRequest, error)

	// LatestVerification returns the user's most recent request or nil
	LatestVerification(ctx context.Context, userID string) (*domain.VerificationRequest, error)

	ListVerifications(ctx context.Context, filter domain.VerificationFilter) ([]domain.VerificationRequest, int, error)

	// DecideVerification updates a pending request; returns domain.ErrConflict if it was already decided
	DecideVerification(ctx context.Context, req domain.VerificationRequest) error
}
