package handler

import (
	"errors"
	"net/http"

	"github.com/jwalitptl/rxledger/internal/repository"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// StatusFor maps domain errors onto HTTP statuses. Tamper and stock conflicts
// are 409: the request was well formed but the ledger's current state refuses
// it. Chain outages are 503 so clients know to retry.
func StatusFor(err error) int {
	var (
		validation   *apperrors.ValidationError
		insufficient *apperrors.InsufficientStockError
		tampered     *apperrors.InventoryTamperedError
		unreachable  *apperrors.ChainUnreachableError
		app          *apperrors.AppError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &insufficient):
		return http.StatusConflict
	case errors.As(err, &tampered):
		return http.StatusConflict
	case errors.As(err, &unreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &app):
		switch app.Code {
		case apperrors.ErrNotFound:
			return http.StatusNotFound
		case apperrors.ErrBadRequest, apperrors.ErrValidation:
			return http.StatusBadRequest
		case apperrors.ErrUnauthorized:
			return http.StatusUnauthorized
		case apperrors.ErrForbidden:
			return http.StatusForbidden
		default:
			return http.StatusInternalServerError
		}
	default:
		return http.StatusInternalServerError
	}
}
