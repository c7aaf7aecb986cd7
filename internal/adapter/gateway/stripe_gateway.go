package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
)

// maxAmountMinor is the largest single charge the processor accepts.
const maxAmountMinor = 99999999

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint, used against stripe-mock and in tests.
	BaseURL string
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// payment calls are never retried
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     logger.Named("stripe").Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret, logger: logger}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*domain.Intent, error) {
	if amountMinor <= 0 || amountMinor > maxAmountMinor {
		return nil, &domain.GatewayError{Op: "create intent", Err: fmt.Errorf("amount %d outside processor range", amountMinor)}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError("create intent", "payment intent", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, mapStripeError("retrieve intent", "payment intent", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrievePaymentMethod(ctx context.Context, paymentMethodID string) (*domain.PaymentMethodDetails, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := g.api.PaymentMethods.Get(paymentMethodID, params)
	if err != nil {
		return nil, mapStripeError("retrieve payment method", "payment method", err)
	}

	details := &domain.PaymentMethodDetails{
		ID:   pm.ID,
		Type: string(pm.Type),
	}
	if pm.Card != nil {
		details.Brand = string(pm.Card.Brand)
		details.Last4 = pm.Card.Last4
		details.ExpiryMonth = int(pm.Card.ExpMonth)
		details.ExpiryYear = int(pm.Card.ExpYear)
	}
	if pm.BillingDetails != nil {
		details.CardholderName = pm.BillingDetails.Name
	}
	return details, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the intent
// the event refers to.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	out := &domain.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	out.IntentID = pi.ID
	if pi.LastPaymentError != nil {
		out.FailureReason = failureReason(pi.LastPaymentError)
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *domain.Intent {
	intent := &domain.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.PaymentMethod != nil {
		intent.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		intent.LastError = failureReason(pi.LastPaymentError)
	}
	return intent
}

func failureReason(e *stripe.Error) string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Code)
}

// mapStripeError turns unknown-object responses into domain.NotFoundError
// and everything else into domain.GatewayError.
func mapStripeError(op, resource string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
		return &domain.NotFoundError{Resource: resource}
	}
	return &domain.GatewayError{Op: op, Err: err}
}
