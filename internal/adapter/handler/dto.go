package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/core/service"
)

type CarRequest struct {
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Year         int             `json:"year"`
	Price        decimal.Decimal `json:"price"`
	Mileage      int             `json:"mileage"`
	Color        string          `json:"color"`
	Images       []string        `json:"images"`
	Features     []string        `json:"features"`
	Transmission string          `json:"transmission"`
	FuelType     string          `json:"fuelType"`
	InStock      *bool           `json:"inStock,omitempty"`
}

func (r CarRequest) toInput() domain.CarInput {
	return domain.CarInput{
		Make:         r.Make,
		Model:        r.Model,
		Year:         r.Year,
		Price:        r.Price,
		Mileage:      r.Mileage,
		Color:        r.Color,
		Images:       r.Images,
		Features:     r.Features,
		Transmission: domain.Transmission(r.Transmission),
		FuelType:     domain.FuelType(r.FuelType),
		InStock:      r.InStock,
	}
}

type CarResponse struct {
	ID           string          `json:"id"`
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Year         int             `json:"year"`
	Price        decimal.Decimal `json:"price"`
	Mileage      int             `json:"mileage"`
	Color        string          `json:"color"`
	InStock      bool            `json:"inStock"`
	Images       []string        `json:"images"`
	Features     []string        `json:"features"`
	Transmission string          `json:"transmission"`
	FuelType     string          `json:"fuelType"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func newCarResponse(c domain.Car) CarResponse {
	return CarResponse{
		ID:           c.ID,
		Make:         c.Make,
		Model:        c.Model,
		Year:         c.Year,
		Price:        c.Price,
		Mileage:      c.Mileage,
		Color:        c.Color,
		InStock:      c.InStock,
		Images:       nonNil(c.Images),
		Features:     nonNil(c.Features),
		Transmission: string(c.Transmission),
		FuelType:     string(c.FuelType),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type PaymentIntentRequest struct {
	CarIDs          []string `json:"carIds"`
	PaymentType     string   `json:"paymentType"`
	DeliveryAddress string   `json:"deliveryAddress"`
}

type PaymentIntentResponse struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	SaleID          string          `json:"saleId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type ItemRequest struct {
	CarID    string           `json:"carId"`
	Price    *decimal.Decimal `json:"price"`
	Quantity int              `json:"quantity"`
}

type CustomerInfoRequest struct {
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	DeliveryAddress string     `json:"deliveryAddress"`
	Address         string     `json:"address"`
	DeliveryDate    *time.Time `json:"deliveryDate,omitempty"`
}

// deliveryAddress prefers deliveryAddress over the older address key.
func (c CustomerInfoRequest) deliveryAddress() string {
	if c.DeliveryAddress != "" {
		return c.DeliveryAddress
	}
	return c.Address
}

type CompletePurchaseRequest struct {
	Items             []ItemRequest       `json:"items"`
	PaymentType       string              `json:"paymentType"`
	CustomerInfo      CustomerInfoRequest `json:"customerInfo"`
	PaymentIntentID   string              `json:"paymentIntentId"`
	SavePaymentMethod bool                `json:"savePaymentMethod"`
}

func (r CompletePurchaseRequest) toInput() service.CompletePurchaseInput {
	return service.CompletePurchaseInput{
		Items:       toPurchaseItems(r.Items),
		PaymentType: domain.PaymentType(r.PaymentType),
		Customer: service.CustomerInfo{
			Name:            r.CustomerInfo.Name,
			Email:           r.CustomerInfo.Email,
			Phone:           r.CustomerInfo.Phone,
			DeliveryAddress: r.CustomerInfo.deliveryAddress(),
			DeliveryDate:    r.CustomerInfo.DeliveryDate,
		},
		PaymentIntentID:   r.PaymentIntentID,
		SavePaymentMethod: r.SavePaymentMethod,
	}
}

// CreateSaleRequest is the body accepted by POST /sales. It feeds the same
// purchase path as /complete-purchase.
type CreateSaleRequest struct {
	BuyerInfo       CustomerInfoRequest `json:"buyerInfo"`
	Items           []ItemRequest       `json:"items"`
	PaymentType     string              `json:"paymentType"`
	DeliveryAddress string              `json:"deliveryAddress"`
	DeliveryDate    *time.Time          `json:"deliveryDate,omitempty"`
	PaymentIntentID string              `json:"paymentIntentId"`
	SaveInfo        bool                `json:"saveInfo"`
}

func (r CreateSaleRequest) toInput() service.CompletePurchaseInput {
	address := r.DeliveryAddress
	if address == "" {
		address = r.BuyerInfo.deliveryAddress()
	}
	date := r.DeliveryDate
	if date == nil {
		date = r.BuyerInfo.DeliveryDate
	}
	return service.CompletePurchaseInput{
		Items:       toPurchaseItems(r.Items),
		PaymentType: domain.PaymentType(r.PaymentType),
		Customer: service.CustomerInfo{
			Name:            r.BuyerInfo.Name,
			Email:           r.BuyerInfo.Email,
			Phone:           r.BuyerInfo.Phone,
			DeliveryAddress: address,
			DeliveryDate:    date,
		},
		PaymentIntentID:   r.PaymentIntentID,
		SavePaymentMethod: r.SaveInfo,
	}
}

func toPurchaseItems(items []ItemRequest) []service.PurchaseItem {
	out := make([]service.PurchaseItem, len(items))
	for i, it := range items {
		out[i] = service.PurchaseItem{CarID: it.CarID, Price: it.Price, Quantity: it.Quantity}
	}
	return out
}

type SaleItemResponse struct {
	ID    string          `json:"id"`
	CarID string          `json:"carId"`
	Price decimal.Decimal `json:"price"`
	Make  string          `json:"make"`
	Model string          `json:"model"`
	Year  int             `json:"year"`
}

type SaleResponse struct {
	ID              string             `json:"id"`
	BuyerID         string             `json:"buyerId"`
	BuyerName       string             `json:"buyerName,omitempty"`
	BuyerEmail      string             `json:"buyerEmail,omitempty"`
	Price           decimal.Decimal    `json:"price"`
	PaymentType     string             `json:"paymentType"`
	DeliveryAddress string             `json:"deliveryAddress"`
	DeliveryDate    *time.Time         `json:"deliveryDate,omitempty"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"paymentStatus"`
	FailureReason   string             `json:"failureReason,omitempty"`
	EmailSent       bool               `json:"emailSent"`
	Items           []SaleItemResponse `json:"items"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func newSaleResponse(s *domain.Sale) SaleResponse {
	items := make([]SaleItemResponse, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleItemResponse{
			ID:    it.ID,
			CarID: it.CarID,
			Price: it.Price,
			Make:  it.Make,
			Model: it.Model,
			Year:  it.Year,
		}
	}
	return SaleResponse{
		ID:              s.ID,
		BuyerID:         s.BuyerID,
		BuyerName:       s.BuyerName,
		BuyerEmail:      s.BuyerEmail,
		Price:           s.Price,
		PaymentType:     string(s.PaymentType),
		DeliveryAddress: s.DeliveryAddress,
		DeliveryDate:    s.DeliveryDate,
		PaymentIntentID: s.PaymentIntentID,
		Status:          string(s.Status),
		PaymentStatus:   string(s.PaymentStatus),
		FailureReason:   s.FailureReason,
		EmailSent:       s.EmailSent,
		Items:           items,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type WarningResponse struct {
	Effect  string `json:"effect"`
	Message string `json:"message"`
}

type PurchaseResponse struct {
	SaleResponse
	Warnings []WarningResponse `json:"warnings"`
}

func newPurchaseResponse(res *service.PurchaseResult) PurchaseResponse {
	warnings := make([]WarningResponse, len(res.Warnings))
	for i, w := range res.Warnings {
		warnings[i] = WarningResponse{Effect: w.Effect, Message: w.Effect + " failed"}
	}
	return PurchaseResponse{SaleResponse: newSaleResponse(res.Sale), Warnings: warnings}
}

type PaymentMethodResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Brand          string `json:"brand,omitempty"`
	MaskedNumber   string `json:"maskedNumber"`
	ExpiryMonth    int    `json:"expiryMonth"`
	ExpiryYear     int    `json:"expiryYear"`
	CardholderName string `json:"cardholderName"`
	IsDefault      bool   `json:"isDefault"`
}

type PrivacySettingsRequest struct {
	MarketingEmails     bool `json:"marketingEmails"`
	ShareWithPartners   bool `json:"shareWithPartners"`
	ShowPurchaseHistory bool `json:"showPurchaseHistory"`
}

type PrivacySettingsResponse struct {
	PrivacySettingsRequest
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func newPrivacyResponse(p domain.PrivacySettings) PrivacySettingsResponse {
	resp := PrivacySettingsResponse{PrivacySettingsRequest: PrivacySettingsRequest{
		MarketingEmails:     p.MarketingEmails,
		ShareWithPartners:   p.ShareWithPartners,
		ShowPurchaseHistory: p.ShowPurchaseHistory,
	}}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

type ProfileResponse struct {
	Purchases       []SaleResponse          `json:"purchases"`
	PaymentMethods  []PaymentMethodResponse `json:"paymentMethods"`
	PrivacySettings PrivacySettingsResponse `json:"privacySettings"`
}

func newProfileResponse(b *service.ProfileBundle) ProfileResponse {
	resp := ProfileResponse{
		Purchases:       make([]SaleResponse, len(b.Purchases)),
		PaymentMethods:  make([]PaymentMethodResponse, len(b.PaymentMethods)),
		PrivacySettings: newPrivacyResponse(b.Privacy),
	}
	for i := range b.Purchases {
		resp.Purchases[i] = newSaleResponse(&b.Purchases[i])
	}
	for i, pm := range b.PaymentMethods {
		resp.PaymentMethods[i] = PaymentMethodResponse{
			ID:             pm.ID,
			Type:           pm.Type,
			Brand:          pm.Brand,
			MaskedNumber:   pm.MaskedNumber,
			ExpiryMonth:    pm.ExpiryMonth,
			ExpiryYear:     pm.ExpiryYear,
			CardholderName: pm.CardholderName,
			IsDefault:      pm.IsDefault,
		}
	}
	return resp
}

type ConfirmationEmailRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	UserID          string `json:"userId"`
}

type ConfirmationEmailResponse struct {
	SaleID      string `json:"saleId"`
	Sent        bool   `json:"sent"`
	AlreadySent bool   `json:"alreadySent"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type VerificationRequest struct {
	Phone    string   `json:"phone"`
	Address  string   `json:"address"`
	IDImages []string `json:"idImages"`
}

type DecisionRequest struct {
	Status   string `json:"status"`
	Comments string `json:"comments"`
}

type VerificationResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Phone            string     `json:"phone"`
	Address          string     `json:"address"`
	IDImages         []string   `json:"idImages"`
	Status           string     `json:"status"`
	ReviewerComments string     `json:"reviewerComments,omitempty"`
	ReviewedBy       string     `json:"reviewedBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ReviewedAt       *time.Time `json:"reviewedAt,omitempty"`
}

func newVerificationResponse(v *domain.VerificationRequest) VerificationResponse {
	return VerificationResponse{
		ID:               v.ID,
		UserID:           v.UserID,
		Phone:            v.Phone,
		Address:          v.Address,
		IDImages:         nonNil(v.IDImages),
		Status:           string(v.Status),
		ReviewerComments: v.ReviewerComments,
		ReviewedBy:       v.ReviewedBy,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
		ReviewedAt:       v.ReviewedAt,
	}
}

type ListResponse[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Count int    `json:"count,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
