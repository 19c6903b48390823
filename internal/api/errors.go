package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/vectorstore"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotConfigured  = errors.New("not configured")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// classify maps an error onto an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, vectorstore.ErrDimension):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrNotConfigured):
		return http.StatusNotImplemented, "not_configured_error"
	case errors.Is(err, inference.ErrImageFetch):
		return http.StatusBadGateway, "image_fetch_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func writeErr(c *echo.Context, err error) error {
	status, typ := classify(err)
	return writeError(c, status, typ, err.Error(), "", "")
}

func apiError(err error) *ResponseError {
	_, typ := classify(err)
	return &ResponseError{Message: err.Error(), Type: typ}
}
