package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/rl1809/dealership/internal/core/domain"
)

const testWebhookSecret = "whsec_test"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeGateway(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       5 * time.Second,
		BaseURL:       srv.URL,
	}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateIntent(t *testing.T) {
	var form map[string][]string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            "pi_123",
			"object":        "payment_intent",
			"client_secret": "pi_123_secret_abc",
			"status":        "requires_payment_method",
			"amount":        2500000,
			"currency":      "usd",
			"metadata":      map[string]string{"buyer_id": "user-1"},
		})
	})

	intent, err := gw.CreateIntent(context.Background(), 2500000, "USD", map[string]string{"buyer_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, domain.IntentStatusRequiresPaymentMethod, intent.Status)
	assert.Equal(t, int64(2500000), intent.AmountMinor)
	assert.Equal(t, "user-1", intent.Metadata["buyer_id"])

	assert.Equal(t, []string{"2500000"}, form["amount"])
	assert.Equal(t, []string{"usd"}, form["currency"])
	assert.Equal(t, []string{"user-1"}, form["metadata[buyer_id]"])
}

func TestCreateIntent_AboveCeiling(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("processor must not be called")
	})

	_, err := gw.CreateIntent(context.Background(), 100000000, "usd", nil)
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestRetrieveIntent(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents/pi_paid":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id":             "pi_paid",
				"object":         "payment_intent",
				"status":         "succeeded",
				"amount":         1000000,
				"currency":       "usd",
				"payment_method": "pm_1",
			})
		case "/v1/payment_intents/pi_missing":
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": map[string]string{
					"type":    "invalid_request_error",
					"code":    "resource_missing",
					"message": "No such payment_intent: 'pi_missing'",
				},
			})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": map[string]string{"type": "api_error", "message": "boom"},
			})
		}
	})

	intent, err := gw.RetrieveIntent(context.Background(), "pi_paid")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, intent.Status)
	assert.Equal(t, "pm_1", intent.PaymentMethodID)

	_, err = gw.RetrieveIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = gw.RetrieveIntent(context.Background(), "pi_broken")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestRetrievePaymentMethod(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     "pm_1",
			"object": "payment_method",
			"type":   "card",
			"card": map[string]interface{}{
				"brand":     "visa",
				"last4":     "4242",
				"exp_month": 12,
				"exp_year":  2030,
			},
			"billing_details": map[string]interface{}{"name": "Jane Buyer"},
		})
	})

	pm, err := gw.RetrievePaymentMethod(context.Background(), "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "visa", pm.Brand)
	assert.Equal(t, "4242", pm.Last4)
	assert.Equal(t, 12, pm.ExpiryMonth)
	assert.Equal(t, 2030, pm.ExpiryYear)
	assert.Equal(t, "Jane Buyer", pm.CardholderName)
}

func signedEvent(t *testing.T, secret string, event map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestParseWebhook(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	payload, header := signedEvent(t, testWebhookSecret, map[string]interface{}{
		"id":     "evt_1",
		"object": "event",
		"type":   "payment_intent.payment_failed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":     "pi_1",
				"object": "payment_intent",
				"status": "requires_payment_method",
				"last_payment_error": map[string]string{
					"code":    "card_declined",
					"message": "Your card was declined.",
				},
			},
		},
	})

	event, err := gw.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, domain.EventIntentFailed, event.Type)
	assert.Equal(t, "pi_1", event.IntentID)
	assert.Equal(t, "Your card was declined.", event.FailureReason)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	payload, header := signedEvent(t, "whsec_other", map[string]interface{}{
		"id":     "evt_1",
		"object": "event",
		"type":   "payment_intent.succeeded",
	})

	_, err := gw.ParseWebhook(payload, header)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = gw.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNewStripeGateway_NoNetworkRetries(t *testing.T) {
	for name, baseURL := range map[string]string{"default endpoint": "", "custom endpoint": "http://127.0.0.1:12111"} {
		t.Run(name, func(t *testing.T) {
			gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: baseURL}, nil)
			backend, ok := gw.api.PaymentIntents.B.(*stripe.BackendImplementation)
			require.True(t, ok)
			assert.Equal(t, int64(0), backend.MaxNetworkRetries)
		})
	}
}

func TestCreateIntent_ServerErrorNotRetried(t *testing.T) {
	var calls int
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{"type": "api_error", "message": "try later"},
		})
	})

	_, err := gw.CreateIntent(context.Background(), 10000, "usd", nil)
	require.ErrorIs(t, err, domain.ErrGateway)
	assert.Equal(t, 1, calls)
}
