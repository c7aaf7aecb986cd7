package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/dealership/internal/core/domain"
)

type errorMapping struct {
	target  error
	status  int
	code    codes.Code
	message string
}

// Order matters: the first matching sentinel wins. An empty message means
// the error text is safe to show to the client.
var errorMappings = []errorMapping{
	{domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument, ""},
	{domain.ErrUnauthorized, http.StatusUnauthorized, codes.Unauthenticated, "authentication required"},
	{domain.ErrForbidden, http.StatusForbidden, codes.PermissionDenied, "access denied"},
	{domain.ErrNotFound, http.StatusNotFound, codes.NotFound, ""},
	{domain.ErrConflict, http.StatusConflict, codes.AlreadyExists, ""},
	{domain.ErrLimitExceeded, http.StatusUnprocessableEntity, codes.ResourceExhausted, ""},
	{domain.ErrPaymentNotCompleted, http.StatusPaymentRequired, codes.FailedPrecondition, ""},
	{domain.ErrGateway, http.StatusBadGateway, codes.Unavailable, "payment processor unavailable, please try again"},
}

// classify returns the transport status for err and whether it was a known
// domain error.
func classify(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.message == "" {
				m.message = publicMessage(err)
			}
			return m, true
		}
	}
	return errorMapping{
		status:  http.StatusInternalServerError,
		code:    codes.Internal,
		message: "internal server error",
	}, false
}

// publicMessage prefers the typed domain error over the wrapped chain so
// internal call-site prefixes stay out of responses.
func publicMessage(err error) string {
	var (
		verr     *domain.ValidationError
		nf       *domain.NotFoundError
		conflict *domain.ConflictError
		limit    *domain.LimitExceededError
		unpaid   *domain.PaymentNotCompletedError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &conflict):
		return conflict.Error()
	case errors.As(err, &limit):
		return limit.Error()
	case errors.As(err, &unpaid):
		return unpaid.Error()
	}
	return err.Error()
}

func errorBody(err error, message string) ErrorResponse {
	resp := ErrorResponse{Error: message}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		resp.Count = nf.Count
	}
	return resp
}
