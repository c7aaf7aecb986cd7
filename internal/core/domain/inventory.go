package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transmission string

const (
	TransmissionAutomatic Transmission = "automatic"
	TransmissionManual    Transmission = "manual"
)

func (t Transmission) Valid() bool {
	return t == TransmissionAutomatic || t == TransmissionManual
}

type FuelType string

const (
	FuelGasoline FuelType = "gasoline"
	FuelDiesel   FuelType = "diesel"
	FuelElectric FuelType = "electric"
	FuelHybrid   FuelType = "hybrid"
)

func (f FuelType) Valid() bool {
	switch f {
	case FuelGasoline, FuelDiesel, FuelElectric, FuelHybrid:
		return true
	}
	return false
}

// Car is a single purchasable vehicle listing. A listing is one physical
// vehicle, so stock is a flag rather than a quantity.
type Car struct {
	ID           string
	Make         string
	Model        string
	Year         int
	Price        decimal.Decimal
	Mileage      int
	Color        string
	InStock      bool
	Images       []string
	Features     []string
	Transmission Transmission
	FuelType     FuelType
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CarInput struct {
	Make         string
	Model        string
	Year         int
	Price        decimal.Decimal
	Mileage      int
	Color        string
	Images       []string
	Features     []string
	Transmission Transmission
	FuelType     FuelType
	InStock      *bool
}

type CarFilter struct {
	Make     string
	Model    string
	InStock  *bool
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	MinYear  int
	MaxYear  int
	Page     int
	PageSize int
}

// Validate checks the listing fields an admin submits. now is used for the
// upper bound on model year.
func (in CarInput) Validate(now time.Time) error {
	switch {
	case in.Make == "":
		return &ValidationError{Field: "make", Reason: "is required"}
	case in.Model == "":
		return &ValidationError{Field: "model", Reason: "is required"}
	case in.Year < 1886 || in.Year > now.Year()+1:
		return &ValidationError{Field: "year", Reason: "is out of range"}
	case !in.Price.IsPositive():
		return &ValidationError{Field: "price", Reason: "must be positive"}
	case in.Mileage < 0:
		return &ValidationError{Field: "mileage", Reason: "must not be negative"}
	case !in.Transmission.Valid():
		return &ValidationError{Field: "transmission", Reason: "is not supported"}
	case !in.FuelType.Valid():
		return &ValidationError{Field: "fuelType", Reason: "is not supported"}
	}
	return nil
}
