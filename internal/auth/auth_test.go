package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/dealership/internal/core/domain"
)

const secret = "test-secret"

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
}

func mustSign(t *testing.T, v *TokenVerifier, u domain.User) string {
	t.Helper()
	token, err := v.Sign(u, validClaims())
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	v := NewTokenVerifier(secret)
	u := domain.User{ID: "user-1", Email: "jane@example.com", Name: "Jane", Role: domain.RoleAdmin}

	got, err := v.Verify(mustSign(t, v, u))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewTokenVerifier(secret)
	other := NewTokenVerifier("other-secret")
	u := domain.User{ID: "user-1"}

	expired, err := v.Sign(u, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	noExpiry, err := v.Sign(u, jwt.RegisteredClaims{})
	require.NoError(t, err)
	noSubject, err := v.Sign(domain.User{}, validClaims())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", mustSign(t, other, u)},
		{"expired", expired},
		{"no expiry", noExpiry},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestVerify_UnknownRoleIsUser(t *testing.T) {
	v := NewTokenVerifier(secret)
	got, err := v.Verify(mustSign(t, v, domain.User{ID: "u", Role: "superuser"}))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, got.Role)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer "))
}

func TestMiddleware(t *testing.T) {
	v := NewTokenVerifier(secret)
	userToken := mustSign(t, v, domain.User{ID: "user-1", Role: domain.RoleUser})
	adminToken := mustSign(t, v, domain.User{ID: "admin-1", Role: domain.RoleAdmin})

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFromContext(r.Context())
		_, _ = w.Write([]byte(u.ID))
	})
	userOnly := v.RequireUser(ok)
	adminOnly := v.RequireUser(RequireAdmin(ok))

	tests := []struct {
		name    string
		handler http.Handler
		target  string
		header  string
		want    int
		body    string
	}{
		{"no token", userOnly, "/", "", http.StatusUnauthorized, ""},
		{"user header", userOnly, "/", "Bearer " + userToken, http.StatusOK, "user-1"},
		{"user query", userOnly, "/?token=" + userToken, "", http.StatusOK, "user-1"},
		{"user on admin route", adminOnly, "/", "Bearer " + userToken, http.StatusForbidden, ""},
		{"admin on admin route", adminOnly, "/", "Bearer " + adminToken, http.StatusOK, "admin-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestUnaryInterceptor(t *testing.T) {
	v := NewTokenVerifier(secret)
	icpt := v.UnaryInterceptor("/svc/Public")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		u, _ := UserFromContext(ctx)
		return u.ID, nil
	}

	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Private"}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	resp, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Public"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "", resp)

	ctx := metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+mustSign(t, v, domain.User{ID: "user-7"})))
	resp, err = icpt(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Private"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "user-7", resp)
}
