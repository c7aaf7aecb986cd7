package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/auth"
	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/core/service"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
	requestTimeout  = 60 * time.Second
)

type Checkout interface {
	CreateIntent(ctx context.Context, buyer domain.User, in service.CreateIntentInput) (*service.IntentResult, error)
	CompletePurchase(ctx context.Context, buyer domain.User, in service.CompletePurchaseInput) (*service.PurchaseResult, error)
}

type WebhookHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, saleID string) (bool, error)
}

type Sales interface {
	GetSale(ctx context.Context, requester domain.User, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	Profile(ctx context.Context, user domain.User) (*service.ProfileBundle, error)
	UpdatePrivacy(ctx context.Context, user domain.User, settings domain.PrivacySettings) (*domain.PrivacySettings, error)
	UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) (*domain.Sale, error)
	ResolveConfirmationTarget(ctx context.Context, requester domain.User, intentID, userID string) (*domain.Sale, error)
}

type Inventory interface {
	CreateCar(ctx context.Context, in domain.CarInput) (*domain.Car, error)
	UpdateCar(ctx context.Context, id string, in domain.CarInput) (*domain.Car, error)
	DeleteCar(ctx context.Context, id string) error
	GetCar(ctx context.Context, id string) (*domain.Car, error)
	ListCars(ctx context.Context, filter domain.CarFilter) ([]domain.Car, int, error)
}

type Verifications interface {
	Submit(ctx context.Context, user domain.User, in service.SubmitVerificationInput) (*domain.VerificationRequest, error)
	GetLatest(ctx context.Context, user domain.User) (*domain.VerificationRequest, error)
	List(ctx context.Context, filter domain.VerificationFilter) ([]domain.VerificationRequest, int, error)
	Decide(ctx context.Context, reviewer domain.User, id string, decision domain.VerificationStatus, comments string) (*domain.VerificationRequest, error)
}

type HTTPDeps struct {
	Checkout      Checkout
	Webhooks      WebhookHandler
	Notifier      ConfirmationSender
	Sales         Sales
	Inventory     Inventory
	Verifications Verifications
	Verifier      *auth.TokenVerifier
	// LiveFeed serves the admin websocket feed. Optional.
	LiveFeed http.Handler
	Logger   *zap.Logger
}

type HTTPHandler struct {
	checkout      Checkout
	webhooks      WebhookHandler
	notifier      ConfirmationSender
	sales         Sales
	inventory     Inventory
	verifications Verifications
	verifier      *auth.TokenVerifier
	liveFeed      http.Handler
	logger        *zap.Logger
}

func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		checkout:      deps.Checkout,
		webhooks:      deps.Webhooks,
		notifier:      deps.Notifier,
		sales:         deps.Sales,
		inventory:     deps.Inventory,
		verifications: deps.Verifications,
		verifier:      deps.Verifier,
		liveFeed:      deps.LiveFeed,
		logger:        logger,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	// The live feed is long-lived and must not inherit the request timeout.
	if h.liveFeed != nil {
		r.With(h.verifier.RequireUser, auth.RequireAdmin).Get("/admin/live", h.liveFeed.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", h.HealthCheck)
		r.Get("/cars", h.ListCars)
		r.Get("/cars/{id}", h.GetCar)
		r.Post("/webhooks/stripe", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.verifier.RequireUser)

			r.Post("/payment-intent", h.CreatePaymentIntent)
			r.Post("/complete-purchase", h.CompletePurchase)
			r.Post("/sales", h.CreateSale)
			r.Get("/sales", h.Profile)
			r.Get("/sales/{id}", h.GetSale)
			r.Put("/privacy-settings", h.UpdatePrivacy)
			r.Post("/send-confirmation-email", h.SendConfirmationEmail)
			r.Post("/verification", h.SubmitVerification)
			r.Get("/verification", h.GetVerification)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Post("/admin/cars", h.CreateCar)
				r.Put("/admin/cars/{id}", h.UpdateCar)
				r.Delete("/admin/cars/{id}", h.DeleteCar)
				r.Get("/admin/sales", h.ListSales)
				r.Patch("/admin/sales/{id}/status", h.UpdateSaleStatus)
				r.Get("/admin/verifications", h.ListVerifications)
				r.Post("/admin/verifications/{id}/decision", h.DecideVerification)
			})
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListCars(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := domain.CarFilter{
		Make:     q.values.Get("make"),
		Model:    q.values.Get("model"),
		InStock:  q.boolPtr("inStock"),
		MinPrice: q.decimalPtr("minPrice"),
		MaxPrice: q.decimalPtr("maxPrice"),
		MinYear:  q.int("minYear"),
		MaxYear:  q.int("maxYear"),
		Page:     q.int("page"),
		PageSize: q.int("pageSize"),
	}
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	cars, total, err := h.inventory.ListCars(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data := make([]CarResponse, len(cars))
	for i, c := range cars {
		data[i] = newCarResponse(c)
	}
	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	writeJSON(w, http.StatusOK, ListResponse[CarResponse]{Data: data, Total: total, Page: page, PageSize: size})
}

func (h *HTTPHandler) GetCar(w http.ResponseWriter, r *http.Request) {
	car, err := h.inventory.GetCar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCarResponse(*car))
}

func (h *HTTPHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.checkout.CreateIntent(r.Context(), currentUser(r), service.CreateIntentInput{
		CarIDs:          req.CarIDs,
		DeliveryAddress: req.DeliveryAddress,
		PaymentType:     domain.PaymentType(req.PaymentType),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIntentResponse{
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		SaleID:          res.SaleID,
		Amount:          res.Amount,
		Currency:        res.Currency,
	})
}

func (h *HTTPHandler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	var req CompletePurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.completePurchase(w, r, req.toInput())
}

func (h *HTTPHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.completePurchase(w, r, req.toInput())
}

func (h *HTTPHandler) completePurchase(w http.ResponseWriter, r *http.Request, in service.CompletePurchaseInput) {
	res, err := h.checkout.CompletePurchase(r.Context(), currentUser(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, warn := range res.Warnings {
		h.logger.Warn("purchase follow-up failed",
			zap.String("sale_id", res.Sale.ID),
			zap.String("effect", warn.Effect),
			zap.Error(warn.Err),
		)
	}
	writeJSON(w, http.StatusCreated, newPurchaseResponse(res))
}

func (h *HTTPHandler) Profile(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.sales.Profile(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(bundle))
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.sales.GetSale(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleResponse(sale))
}

func (h *HTTPHandler) UpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	var req PrivacySettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings, err := h.sales.UpdatePrivacy(r.Context(), currentUser(r), domain.PrivacySettings{
		MarketingEmails:     req.MarketingEmails,
		ShareWithPartners:   req.ShareWithPartners,
		ShowPurchaseHistory: req.ShowPurchaseHistory,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPrivacyResponse(*settings))
}

// StripeWebhook acknowledges every verified delivery, including ones for
// unknown sales, so the processor does not retry them forever.
func (h *HTTPHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "could not read body"})
		return
	}

	err = h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "webhook signature verification failed"})
	default:
		h.logger.Error("webhook processing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook processing failed"})
	}
}

func (h *HTTPHandler) SendConfirmationEmail(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.sales.ResolveConfirmationTarget(r.Context(), currentUser(r), req.PaymentIntentID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sent, err := h.notifier.SendConfirmation(r.Context(), sale.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmationEmailResponse{SaleID: sale.ID, Sent: sent, AlreadySent: !sent})
}

func (h *HTTPHandler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.verifications.Submit(r.Context(), currentUser(r), service.SubmitVerificationInput{
		Phone:    req.Phone,
		Address:  req.Address,
		IDImages: req.IDImages,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVerificationResponse(v))
}

func (h *HTTPHandler) GetVerification(w http.ResponseWriter, r *http.Request) {
	v, err := h.verifications.GetLatest(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVerificationResponse(v))
}

func (h *HTTPHandler) CreateCar(w http.ResponseWriter, r *http.Request) {
	var req CarRequest
	if !h.decode(w, r, &req) {
		return
	}
	car, err := h.inventory.CreateCar(r.Context(), req.toInput())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCarResponse(*car))
}

func (h *HTTPHandler) UpdateCar(w http.ResponseWriter, r *http.Request) {
	var req CarRequest
	if !h.decode(w, r, &req) {
		return
	}
	car, err := h.inventory.UpdateCar(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCarResponse(*car))
}

func (h *HTTPHandler) DeleteCar(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.DeleteCar(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := domain.SaleFilter{
		BuyerID:       q.values.Get("buyerId"),
		Status:        domain.SaleStatus(q.values.Get("status")),
		PaymentStatus: domain.PaymentStatus(q.values.Get("paymentStatus")),
		From:          q.timePtr("from"),
		To:            q.timePtr("to"),
		Page:          q.int("page"),
		PageSize:      q.int("pageSize"),
	}
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	sales, total, err := h.sales.ListSales(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data := make([]SaleResponse, len(sales))
	for i := range sales {
		data[i] = newSaleResponse(&sales[i])
	}
	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	writeJSON(w, http.StatusOK, ListResponse[SaleResponse]{Data: data, Total: total, Page: page, PageSize: size})
}

func (h *HTTPHandler) UpdateSaleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.sales.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.SaleStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleResponse(sale))
}

func (h *HTTPHandler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := domain.VerificationFilter{
		UserID:   q.values.Get("userId"),
		Status:   domain.VerificationStatus(q.values.Get("status")),
		Page:     q.int("page"),
		PageSize: q.int("pageSize"),
	}
	if q.err != nil {
		h.writeError(w, r, q.err)
		return
	}

	reqs, total, err := h.verifications.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data := make([]VerificationResponse, len(reqs))
	for i := range reqs {
		data[i] = newVerificationResponse(&reqs[i])
	}
	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	writeJSON(w, http.StatusOK, ListResponse[VerificationResponse]{Data: data, Total: total, Page: page, PageSize: size})
}

func (h *HTTPHandler) DecideVerification(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.verifications.Decide(r.Context(), currentUser(r), chi.URLParam(r, "id"),
		domain.VerificationStatus(req.Status), req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVerificationResponse(v))
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	m, known := classify(err)
	if !known {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	} else if errors.Is(err, domain.ErrGateway) {
		h.logger.Warn("payment gateway call failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, m.status, errorBody(err, m.message))
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func currentUser(r *http.Request) domain.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// queryParser collects the first malformed query parameter.
type queryParser struct {
	values url.Values
	err    error
}

func (q *queryParser) get(key string) string {
	return q.values.Get(key)
}

func (q *queryParser) fail(key, reason string) {
	if q.err == nil {
		q.err = &domain.ValidationError{Field: key, Reason: reason}
	}
}

func (q *queryParser) int(key string) int {
	raw := q.get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.fail(key, "must be an integer")
	}
	return n
}

func (q *queryParser) boolPtr(key string) *bool {
	raw := q.get(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.fail(key, "must be true or false")
		return nil
	}
	return &b
}

func (q *queryParser) decimalPtr(key string) *decimal.Decimal {
	raw := q.get(key)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		q.fail(key, "must be a number")
		return nil
	}
	return &d
}

// timePtr accepts RFC 3339 timestamps or plain dates.
func (q *queryParser) timePtr(key string) *time.Time {
	raw := q.get(key)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	q.fail(key, "must be a date")
	return nil
}
