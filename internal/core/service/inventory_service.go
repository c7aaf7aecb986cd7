package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

type InventoryService struct {
	repo   port.InventoryRepository
	cache  port.CarCache
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time
}

func NewInventoryService(repo port.InventoryRepository, cache port.CarCache, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{repo: repo, cache: cache, logger: logger, now: time.Now}
}

func (s *InventoryService) CreateCar(ctx context.Context, in domain.CarInput) (*domain.Car, error) {
	in = normalizeCarInput(in)
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	car := domain.Car{
		ID:        uuid.New().String(),
		InStock:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyCarInput(&car, in)
	if in.InStock != nil {
		car.InStock = *in.InStock
	}
	if err := s.repo.CreateCar(ctx, car); err != nil {
		return nil, fmt.Errorf("create car: %w", err)
	}
	s.logger.Info("car listed", zap.String("car_id", car.ID), zap.String("make", car.Make), zap.String("model", car.Model))
	return &car, nil
}

// UpdateCar rewrites the listing fields. The in-stock flag is only written
// when the input sets it, and then under a row lock in the repository.
func (s *InventoryService) UpdateCar(ctx context.Context, id string, in domain.CarInput) (*domain.Car, error) {
	in = normalizeCarInput(in)
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	car, err := s.repo.GetCar(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	if car == nil {
		return nil, &domain.NotFoundError{Resource: "car"}
	}
	if in.InStock != nil {
		if err := s.repo.SetCarStock(ctx, id, *in.InStock); err != nil {
			return nil, err
		}
	}
	applyCarInput(car, in)
	car.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateCar(ctx, *car); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)

	updated, err := s.repo.GetCar(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload car: %w", err)
	}
	if updated == nil {
		return nil, &domain.NotFoundError{Resource: "car"}
	}
	return updated, nil
}

func (s *InventoryService) DeleteCar(ctx context.Context, id string) error {
	if err := s.repo.DeleteCar(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.Info("car removed", zap.String("car_id", id))
	return nil
}

// GetCar reads through the cache. Concurrent misses for the same id share
// one database lookup.
func (s *InventoryService) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	if s.cache != nil {
		car, err := s.cache.GetCar(ctx, id)
		if err != nil {
			s.logger.Warn("car cache read failed", zap.String("car_id", id), zap.Error(err))
		} else if car != nil {
			return car, nil
		}
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		car, err := s.repo.GetCar(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get car: %w", err)
		}
		if car == nil {
			return nil, &domain.NotFoundError{Resource: "car"}
		}
		if s.cache != nil {
			if err := s.cache.SetCar(ctx, *car); err != nil {
				s.logger.Warn("car cache write failed", zap.String("car_id", id), zap.Error(err))
			}
		}
		return car, nil
	})
	if err != nil {
		return nil, err
	}
	car := *v.(*domain.Car)
	return &car, nil
}

func (s *InventoryService) ListCars(ctx context.Context, filter domain.CarFilter) ([]domain.Car, int, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MaxPrice.LessThan(*filter.MinPrice) {
		return nil, 0, &domain.ValidationError{Field: "maxPrice", Reason: "must not be below minPrice"}
	}
	if filter.MinYear > 0 && filter.MaxYear > 0 && filter.MaxYear < filter.MinYear {
		return nil, 0, &domain.ValidationError{Field: "maxYear", Reason: "must not be below minYear"}
	}
	filter.Page, filter.PageSize = domain.NormalizePage(filter.Page, filter.PageSize)
	return s.repo.ListCars(ctx, filter)
}

func (s *InventoryService) invalidate(ctx context.Context, ids ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCars(ctx, ids...); err != nil {
		s.logger.Warn("car cache invalidation failed", zap.Strings("car_ids", ids), zap.Error(err))
	}
}

func normalizeCarInput(in domain.CarInput) domain.CarInput {
	in.Make = strings.TrimSpace(in.Make)
	in.Model = strings.TrimSpace(in.Model)
	in.Color = strings.TrimSpace(in.Color)
	in.Transmission = domain.Transmission(strings.ToLower(string(in.Transmission)))
	in.FuelType = domain.FuelType(strings.ToLower(string(in.FuelType)))
	return in
}

func applyCarInput(car *domain.Car, in domain.CarInput) {
	car.Make = in.Make
	car.Model = in.Model
	car.Year = in.Year
	car.Price = in.Price
	car.Mileage = in.Mileage
	car.Color = in.Color
	car.Images = in.Images
	car.Features = in.Features
	car.Transmission = in.Transmission
	car.FuelType = in.FuelType
}
