// Package apperr holds the error taxonomy shared by the domain packages and
// its translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by guarded updates when the row changed since it
	// was read (version or status no longer matches).
	ErrConflict = errors.New("concurrent modification")
)

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError rejects an operation the entity's current state forbids.
type InvalidStateError struct {
	Entity string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %q does not allow %s", e.Entity, e.State, e.Op)
}

func InvalidState(entity, state, op string) error {
	return &InvalidStateError{Entity: entity, State: state, Op: op}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// ToHTTP maps domain errors to echo HTTP errors. Unknown errors become 500
// without leaking their text.
func ToHTTP(err error, notFoundMsg string) error {
	var ve *ValidationError
	var se *InvalidStateError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusConflict, se.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "resource was modified concurrently, retry the request")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
