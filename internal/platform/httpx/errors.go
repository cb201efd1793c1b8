// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/internal/shared"
)

// Sentinel errors for handlers that answer in JSON.
var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps errors to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var se *remote.StatusError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, permission.ErrUnknownEntity), errors.Is(err, permission.ErrUnknownOperation), errors.Is(err, permission.ErrUnknownRole):
		Problem(w, http.StatusBadRequest, "Unknown Permission Tag", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, remote.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.As(err, &se):
		Problem(w, http.StatusBadGateway, "Upstream Error", se.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
