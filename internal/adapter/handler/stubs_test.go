package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/dealership/internal/auth"
	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/core/service"
)

var errNotStubbed = errors.New("not stubbed")

type stubCheckout struct {
	createIntent     func(domain.User, service.CreateIntentInput) (*service.IntentResult, error)
	completePurchase func(domain.User, service.CompletePurchaseInput) (*service.PurchaseResult, error)
}

func (s *stubCheckout) CreateIntent(_ context.Context, u domain.User, in service.CreateIntentInput) (*service.IntentResult, error) {
	if s.createIntent == nil {
		return nil, errNotStubbed
	}
	return s.createIntent(u, in)
}

func (s *stubCheckout) CompletePurchase(_ context.Context, u domain.User, in service.CompletePurchaseInput) (*service.PurchaseResult, error) {
	if s.completePurchase == nil {
		return nil, errNotStubbed
	}
	return s.completePurchase(u, in)
}

type stubWebhooks struct {
	err       error
	payload   []byte
	signature string
}

func (s *stubWebhooks) HandleEvent(_ context.Context, payload []byte, signature string) error {
	s.payload, s.signature = payload, signature
	return s.err
}

type stubNotifier struct {
	sent  bool
	err   error
	calls []string
}

func (s *stubNotifier) SendConfirmation(_ context.Context, saleID string) (bool, error) {
	s.calls = append(s.calls, saleID)
	return s.sent, s.err
}

type stubSales struct {
	sales   map[string]*domain.Sale
	profile *service.ProfileBundle
	filter  domain.SaleFilter
}

func (s *stubSales) GetSale(_ context.Context, u domain.User, id string) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok || !u.CanAccess(sale.BuyerID) {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	return sale, nil
}

func (s *stubSales) ListSales(_ context.Context, f domain.SaleFilter) ([]domain.Sale, int, error) {
	s.filter = f
	var out []domain.Sale
	for _, sale := range s.sales {
		out = append(out, *sale)
	}
	return out, len(out), nil
}

func (s *stubSales) Profile(_ context.Context, u domain.User) (*service.ProfileBundle, error) {
	if s.profile == nil {
		return nil, errNotStubbed
	}
	return s.profile, nil
}

func (s *stubSales) UpdatePrivacy(_ context.Context, u domain.User, p domain.PrivacySettings) (*domain.PrivacySettings, error) {
	p.UserID = u.ID
	return &p, nil
}

func (s *stubSales) UpdateStatus(_ context.Context, id string, st domain.SaleStatus) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	if !sale.Status.CanTransitionTo(st) {
		return nil, &domain.ConflictError{Reason: "invalid status transition"}
	}
	sale.Status = st
	return sale, nil
}

func (s *stubSales) ResolveConfirmationTarget(_ context.Context, u domain.User, intentID, userID string) (*domain.Sale, error) {
	for _, sale := range s.sales {
		if intentID != "" && sale.PaymentIntentID == intentID && u.CanAccess(sale.BuyerID) {
			return sale, nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "sale"}
}

type stubInventory struct {
	cars    map[string]*domain.Car
	filter  domain.CarFilter
	deleted []string
	delErr  error
}

func (s *stubInventory) CreateCar(_ context.Context, in domain.CarInput) (*domain.Car, error) {
	if err := in.Validate(time.Now()); err != nil {
		return nil, err
	}
	return &domain.Car{ID: "car-new", Make: in.Make, Model: in.Model, Year: in.Year, Price: in.Price, InStock: true}, nil
}

func (s *stubInventory) UpdateCar(_ context.Context, id string, in domain.CarInput) (*domain.Car, error) {
	car, ok := s.cars[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "car"}
	}
	car.Price = in.Price
	return car, nil
}

func (s *stubInventory) DeleteCar(_ context.Context, id string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubInventory) GetCar(_ context.Context, id string) (*domain.Car, error) {
	car, ok := s.cars[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "car"}
	}
	return car, nil
}

func (s *stubInventory) ListCars(_ context.Context, f domain.CarFilter) ([]domain.Car, int, error) {
	s.filter = f
	var out []domain.Car
	for _, c := range s.cars {
		out = append(out, *c)
	}
	return out, len(out), nil
}

type stubVerifications struct {
	latest  *domain.VerificationRequest
	decided domain.VerificationStatus
}

func (s *stubVerifications) Submit(_ context.Context, u domain.User, in service.SubmitVerificationInput) (*domain.VerificationRequest, error) {
	if in.Phone == "" {
		return nil, &domain.ValidationError{Field: "phone", Reason: "is required"}
	}
	return &domain.VerificationRequest{ID: "ver-1", UserID: u.ID, Phone: in.Phone, Status: domain.VerificationPending}, nil
}

func (s *stubVerifications) GetLatest(_ context.Context, u domain.User) (*domain.VerificationRequest, error) {
	if s.latest == nil {
		return nil, &domain.NotFoundError{Resource: "verification request"}
	}
	return s.latest, nil
}

func (s *stubVerifications) List(_ context.Context, f domain.VerificationFilter) ([]domain.VerificationRequest, int, error) {
	return nil, 0, nil
}

func (s *stubVerifications) Decide(_ context.Context, reviewer domain.User, id string, d domain.VerificationStatus, comments string) (*domain.VerificationRequest, error) {
	s.decided = d
	return &domain.VerificationRequest{ID: id, Status: d, ReviewedBy: reviewer.ID, ReviewerComments: comments}, nil
}

const testSecret = "handler-test-secret"

var (
	testBuyer = domain.User{ID: "user-1", Email: "jane@example.com", Name: "Jane", Role: domain.RoleUser}
	testAdmin = domain.User{ID: "admin-1", Role: domain.RoleAdmin}
)

func tokenFor(t *testing.T, v *auth.TokenVerifier, u domain.User) string {
	t.Helper()
	token, err := v.Sign(u, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return token
}
