package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/dealership/internal/adapter/handler"
	"github.com/rl1809/dealership/internal/adapter/storage"
	"github.com/rl1809/dealership/internal/auth"
	"github.com/rl1809/dealership/internal/config"
	"github.com/rl1809/dealership/internal/core/domain"
)

// Every buyer races for the same car. Exactly one purchase may succeed.
const (
	totalBuyers = 50
	carPrice    = 18500
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	db, err := sqlx.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Seed one listing
	repo := storage.NewMySQLAdapter(db)
	now := time.Now().UTC()
	car := domain.Car{
		ID:           uuid.NewString(),
		Make:         "Porsche",
		Model:        "911",
		Year:         now.Year(),
		Price:        decimal.NewFromInt(carPrice),
		InStock:      true,
		Transmission: domain.TransmissionManual,
		FuelType:     domain.FuelGasoline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateCar(ctx, car); err != nil {
		log.Fatalf("failed to seed car: %v", err)
	}

	conn, err := grpc.NewClient("localhost:"+cfg.Server.GRPCPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to dial grpc: %v", err)
	}
	defer conn.Close()
	client := handler.NewCheckoutClient(conn)
	verifier := auth.NewTokenVerifier(cfg.JWT.Secret)

	// Counters
	var successCount, soldOutCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalBuyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			buyer := domain.User{ID: fmt.Sprintf("buyer-%d", n), Email: fmt.Sprintf("buyer-%d@example.com", n), Role: domain.RoleUser}
			token, err := verifier.Sign(buyer, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))})
			if err != nil {
				errorCount.Add(1)
				return
			}
			callCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

			req, err := structpb.NewStruct(map[string]interface{}{
				"items":        []interface{}{map[string]interface{}{"carId": car.ID, "price": carPrice, "quantity": 1}},
				"paymentType":  string(domain.PaymentTypeBankTransfer),
				"customerInfo": map[string]interface{}{"name": buyer.ID, "email": buyer.Email, "deliveryAddress": "1 Race Track Rd"},
			})
			if err != nil {
				errorCount.Add(1)
				return
			}

			_, err = client.CompletePurchase(callCtx, req)
			switch status.Code(err) {
			case codes.OK:
				successCount.Add(1)
			case codes.NotFound:
				soldOutCount.Add(1)
			default:
				log.Printf("buyer %d: %v", n, err)
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Car:              %s\n", car.ID)
	fmt.Printf("Total Buyers:     %d\n", totalBuyers)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == 1 && soldOut == totalBuyers-1 {
		fmt.Println("PASS: exactly one buyer got the car")
	} else {
		fmt.Printf("FAIL: expected 1 success/%d sold out, got %d/%d\n", totalBuyers-1, success, soldOut)
	}

	// Verify final stock in MySQL
	stored, err := repo.GetCar(ctx, car.ID)
	if err != nil || stored == nil {
		log.Fatalf("failed to reload car: %v", err)
	}
	if !stored.InStock {
		fmt.Println("PASS: car is out of stock")
	} else {
		fmt.Println("FAIL: car is still in stock")
	}

	sales, total, err := repo.ListSales(ctx, domain.SaleFilter{Status: domain.SaleStatusCompleted, Page: 1, PageSize: domain.MaxPageSize})
	if err != nil {
		log.Fatalf("failed to list sales: %v", err)
	}
	var forCar int
	for _, s := range sales {
		for _, item := range s.Items {
			if item.CarID == car.ID {
				forCar++
			}
		}
	}
	fmt.Printf("Completed sales for car: %d (of %d completed overall)\n", forCar, total)
}
