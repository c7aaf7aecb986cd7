package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/dealership/internal/core/domain"
)

// memStore is an in-memory stand-in for the MySQL adapter. It implements the
// inventory, sale and verification repositories over shared state so stock
// flips are visible across them.
type memStore struct {
	mu            sync.Mutex
	cars          map[string]domain.Car
	sales         map[string]domain.Sale
	methods       map[string][]domain.PaymentMethod
	privacy       map[string]domain.PrivacySettings
	verifications map[string]domain.VerificationRequest

	createSaleErr error
	saveMethodErr error
	getCarsCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		cars:          make(map[string]domain.Car),
		sales:         make(map[string]domain.Sale),
		methods:       make(map[string][]domain.PaymentMethod),
		privacy:       make(map[string]domain.PrivacySettings),
		verifications: make(map[string]domain.VerificationRequest),
	}
}

func (m *memStore) addCar(id, price string, inStock bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cars[id] = domain.Car{
		ID:           id,
		Make:         "Toyota",
		Model:        "Corolla",
		Year:         2021,
		Price:        decimal.RequireFromString(price),
		InStock:      inStock,
		Transmission: domain.TransmissionAutomatic,
		FuelType:     domain.FuelGasoline,
	}
}

func (m *memStore) car(id string) domain.Car {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cars[id]
}

func (m *memStore) saleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

func (m *memStore) CreateCar(ctx context.Context, car domain.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cars[car.ID] = car
	return nil
}

func (m *memStore) UpdateCar(ctx context.Context, car domain.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.cars[car.ID]
	if !ok {
		return &domain.NotFoundError{Resource: "car"}
	}
	car.InStock = existing.InStock
	m.cars[car.ID] = car
	return nil
}

func (m *memStore) SetCarStock(ctx context.Context, id string, inStock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	car, ok := m.cars[id]
	if !ok {
		return &domain.NotFoundError{Resource: "car"}
	}
	if inStock && !car.InStock && m.heldByOtherSale(id, "") {
		return &domain.ConflictError{Reason: "car belongs to a completed sale"}
	}
	car.InStock = inStock
	m.cars[id] = car
	return nil
}

// heldByOtherSale reports whether a completed or delivered sale other than
// exceptSaleID includes the car. Callers hold m.mu.
func (m *memStore) heldByOtherSale(carID, exceptSaleID string) bool {
	for _, sale := range m.sales {
		if sale.ID == exceptSaleID {
			continue
		}
		if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusDelivered {
			continue
		}
		for _, item := range sale.Items {
			if item.CarID == carID {
				return true
			}
		}
	}
	return false
}

func (m *memStore) DeleteCar(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cars[id]; !ok {
		return &domain.NotFoundError{Resource: "car"}
	}
	for _, sale := range m.sales {
		for _, item := range sale.Items {
			if item.CarID == id {
				return &domain.ConflictError{Reason: "car is referenced by a sale"}
			}
		}
	}
	delete(m.cars, id)
	return nil
}

func (m *memStore) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	car, ok := m.cars[id]
	if !ok {
		return nil, nil
	}
	return &car, nil
}

func (m *memStore) GetCarsByIDs(ctx context.Context, ids []string) ([]domain.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCarsCalls++
	var cars []domain.Car
	for _, id := range ids {
		if car, ok := m.cars[id]; ok {
			cars = append(cars, car)
		}
	}
	return cars, nil
}

func (m *memStore) ListCars(ctx context.Context, filter domain.CarFilter) ([]domain.Car, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cars []domain.Car
	for _, car := range m.cars {
		if filter.InStock != nil && car.InStock != *filter.InStock {
			continue
		}
		cars = append(cars, car)
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].ID < cars[j].ID })
	return cars, len(cars), nil
}

func (m *memStore) CreateSale(ctx context.Context, sale *domain.Sale) error {
	if m.createSaleErr != nil {
		return m.createSaleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[sale.ID] = cloneSale(*sale)
	return nil
}

func (m *memStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	out := cloneSale(sale)
	return &out, nil
}

func (m *memStore) GetSaleByIntentID(ctx context.Context, intentID string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sale := range m.sales {
		if sale.PaymentIntentID == intentID {
			out := cloneSale(sale)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sale
	for _, sale := range m.sales {
		if filter.BuyerID != "" && sale.BuyerID != filter.BuyerID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && sale.PaymentStatus != filter.PaymentStatus {
			continue
		}
		out = append(out, cloneSale(sale))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if filter.PageSize > 0 && len(out) > filter.PageSize {
		out = out[:filter.PageSize]
	}
	return out, total, nil
}

// FinalizePurchase mirrors the conditional stock flip of the SQL adapter.
func (m *memStore) FinalizePurchase(ctx context.Context, sale *domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unavailable := 0
	for _, item := range sale.Items {
		if car, ok := m.cars[item.CarID]; !ok || !car.InStock {
			unavailable++
		}
	}
	if unavailable > 0 {
		return &domain.NotFoundError{Resource: "car", Count: unavailable}
	}
	for _, item := range sale.Items {
		car := m.cars[item.CarID]
		car.InStock = false
		m.cars[item.CarID] = car
	}
	m.sales[sale.ID] = cloneSale(*sale)
	return nil
}

func (m *memStore) ApplyPaymentOutcome(ctx context.Context, intentID string, outcome domain.PaymentOutcome) (*domain.AppliedOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sale *domain.Sale
	for id := range m.sales {
		if m.sales[id].PaymentIntentID == intentID {
			s := m.sales[id]
			sale = &s
			break
		}
	}
	if sale == nil {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	if sale.PaymentStatus == domain.PaymentStatusSucceeded {
		out := cloneSale(*sale)
		return &domain.AppliedOutcome{Sale: &out}, nil
	}
	applied := &domain.AppliedOutcome{Changed: true}
	if outcome.Succeeded {
		sale.PaymentStatus = domain.PaymentStatusSucceeded
		sale.FailureReason = ""
		if sale.Status == domain.SaleStatusPending {
			sale.Status = domain.SaleStatusCompleted
			for _, item := range sale.Items {
				car := m.cars[item.CarID]
				if !car.InStock {
					applied.Oversold++
					continue
				}
				car.InStock = false
				m.cars[item.CarID] = car
			}
		}
	} else {
		sale.PaymentStatus = domain.PaymentStatusFailed
		sale.FailureReason = outcome.FailureReason
	}
	m.sales[sale.ID] = cloneSale(*sale)
	out := cloneSale(*sale)
	applied.Sale = &out
	return applied, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	if !sale.Status.CanTransitionTo(status) {
		return nil, &domain.ConflictError{Reason: "transition not allowed"}
	}
	if sale.Status == domain.SaleStatusCompleted && status == domain.SaleStatusCancelled {
		for _, item := range sale.Items {
			if m.heldByOtherSale(item.CarID, sale.ID) {
				continue
			}
			car := m.cars[item.CarID]
			car.InStock = true
			m.cars[item.CarID] = car
		}
	}
	sale.Status = status
	m.sales[id] = sale
	out := cloneSale(sale)
	return &out, nil
}

func (m *memStore) MarkEmailSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return &domain.NotFoundError{Resource: "sale"}
	}
	sale.EmailSent = true
	m.sales[id] = sale
	return nil
}

func (m *memStore) SavePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error {
	if m.saveMethodErr != nil {
		return m.saveMethodErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[method.UserID] = append(m.methods[method.UserID], *method)
	return nil
}

func (m *memStore) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PaymentMethod(nil), m.methods[userID]...), nil
}

func (m *memStore) GetPrivacySettings(ctx context.Context, userID string) (*domain.PrivacySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.privacy[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) SavePrivacySettings(ctx context.Context, settings domain.PrivacySettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privacy[settings.UserID] = settings
	return nil
}

func (m *memStore) CreateVerification(ctx context.Context, req domain.VerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[req.ID] = req
	return nil
}

func (m *memStore) GetVerification(ctx context.Context, id string) (*domain.VerificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.verifications[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *memStore) LatestVerification(ctx context.Context, userID string) (*domain.VerificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.VerificationRequest
	for _, req := range m.verifications {
		if req.UserID != userID {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) {
			r := req
			latest = &r
		}
	}
	return latest, nil
}

func (m *memStore) ListVerifications(ctx context.Context, filter domain.VerificationFilter) ([]domain.VerificationRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VerificationRequest
	for _, req := range m.verifications {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	return out, len(out), nil
}

func (m *memStore) DecideVerification(ctx context.Context, req domain.VerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.verifications[req.ID]
	if !ok {
		return &domain.NotFoundError{Resource: "verification request"}
	}
	if current.Status != domain.VerificationPending {
		return &domain.ConflictError{Reason: "already decided"}
	}
	m.verifications[req.ID] = req
	return nil
}

func cloneSale(s domain.Sale) domain.Sale {
	s.Items = append([]domain.SaleItem(nil), s.Items...)
	return s
}

type fakeGateway struct {
	mu          sync.Mutex
	intents     map[string]*domain.Intent
	methods     map[string]*domain.PaymentMethodDetails
	events      map[string]*domain.WebhookEvent
	createErr   error
	retrieveErr error
	methodErr   error
	created     int
	nextID      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: make(map[string]*domain.Intent),
		methods: make(map[string]*domain.PaymentMethodDetails),
		events:  make(map[string]*domain.WebhookEvent),
	}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*domain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	g.created++
	intent := &domain.Intent{
		ID:           fmt.Sprintf("pi_%d", g.nextID),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.nextID),
		Status:       domain.IntentStatusRequiresPaymentMethod,
		AmountMinor:  amountMinor,
		Currency:     currency,
		Metadata:     metadata,
	}
	g.intents[intent.ID] = intent
	return intent, nil
}

func (g *fakeGateway) setIntent(intent *domain.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.ID] = intent
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, intentID string) (*domain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "payment intent"}
	}
	out := *intent
	return &out, nil
}

func (g *fakeGateway) RetrievePaymentMethod(ctx context.Context, id string) (*domain.PaymentMethodDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.methodErr != nil {
		return nil, g.methodErr
	}
	pm, ok := g.methods[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "payment method"}
	}
	return pm, nil
}

// ParseWebhook treats the signature as a lookup key into prepared events.
func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	event, ok := g.events[signature]
	if !ok {
		return nil, errors.Join(domain.ErrUnauthorized, errors.New("signature mismatch"))
	}
	return event, nil
}

type fakeCache struct {
	mu       sync.Mutex
	keys     map[string]bool
	err      error
	released []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{keys: make(map[string]bool)}
}

func (c *fakeCache) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	c.released = append(c.released, key)
	return nil
}

type fakeCarCache struct {
	mu          sync.Mutex
	cars        map[string]domain.Car
	invalidated []string
}

func newFakeCarCache() *fakeCarCache {
	return &fakeCarCache{cars: make(map[string]domain.Car)}
}

func (c *fakeCarCache) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	car, ok := c.cars[id]
	if !ok {
		return nil, nil
	}
	return &car, nil
}

func (c *fakeCarCache) SetCar(ctx context.Context, car domain.Car) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cars[car.ID] = car
	return nil
}

func (c *fakeCarCache) InvalidateCars(ctx context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.cars, id)
	}
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.SaleEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []domain.SaleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SaleEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
