package api

import (
	"errors"

	"CapitalDash/internal/domain"
	xhttp "CapitalDash/pkg/http"
)

// toAppError maps the domain taxonomy onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, domain.ErrInvalidRequest):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return xhttp.ServiceUnavailableError("market data is temporarily unavailable").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
