package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSaleStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SaleStatus
		want     bool
	}{
		{SaleStatusPending, SaleStatusCancelled, true},
		{SaleStatusPending, SaleStatusCompleted, false},
		{SaleStatusPending, SaleStatusDelivered, false},
		{SaleStatusCompleted, SaleStatusDelivered, true},
		{SaleStatusCompleted, SaleStatusCancelled, true},
		{SaleStatusDelivered, SaleStatusCancelled, false},
		{SaleStatusCancelled, SaleStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2500000), ToMinorUnits(decimal.NewFromInt(25000)))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(99999999), ToMinorUnits(MaxAmount))
	assert.True(t, FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("finalize: %w", &NotFoundError{Resource: "car", Count: 2})
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "finalize: 2 cars not found or unavailable", wrapped.Error())

	gw := &GatewayError{Op: "create intent", Err: errors.New("timeout")}
	assert.True(t, errors.Is(gw, ErrGateway))
	assert.False(t, errors.Is(gw, ErrNotFound))

	assert.ErrorIs(t, &ValidationError{Field: "x"}, ErrValidation)
	assert.ErrorIs(t, &ConflictError{Reason: "x"}, ErrConflict)
	assert.ErrorIs(t, &LimitExceededError{Amount: decimal.NewFromInt(1), Limit: MaxAmount}, ErrLimitExceeded)
	assert.ErrorIs(t, &PaymentNotCompletedError{IntentID: "pi", Status: "processing"}, ErrPaymentNotCompleted)
}

func TestSaleTotals(t *testing.T) {
	sale := &Sale{Items: []SaleItem{
		{CarID: "a", Price: decimal.NewFromInt(10000)},
		{CarID: "b", Price: decimal.NewFromInt(15000)},
	}}
	assert.True(t, sale.ItemsTotal().Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, []string{"a", "b"}, sale.CarIDs())
}

func TestCarInputYearBounds(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	in := CarInput{
		Make: "Ford", Model: "Model T", Year: 2027,
		Price: decimal.NewFromInt(1), Transmission: TransmissionManual, FuelType: FuelGasoline,
	}
	assert.NoError(t, in.Validate(now))
	in.Year = 2028
	assert.ErrorIs(t, in.Validate(now), ErrValidation)
}

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, DefaultPageSize, s)
	_, s = NormalizePage(3, 1000)
	assert.Equal(t, MaxPageSize, s)
}

func TestUserAccess(t *testing.T) {
	assert.True(t, User{ID: "u1"}.CanAccess("u1"))
	assert.False(t, User{ID: "u1"}.CanAccess("u2"))
	assert.False(t, User{}.CanAccess(""))
	assert.True(t, User{ID: "a", Role: RoleAdmin}.CanAccess("u2"))
}
