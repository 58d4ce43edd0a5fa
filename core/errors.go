package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorValidation        = "RELAY_VALIDATION"
	RelayErrorAuthentication    = "RELAY_AUTHENTICATION"
	RelayErrorConflict          = "RELAY_CONFLICT"
	RelayErrorNotFound          = "RELAY_NOT_FOUND"
	RelayErrorRetryableDelivery = "RELAY_DELIVERY_RETRYABLE"
	RelayErrorTerminalDelivery  = "RELAY_DELIVERY_TERMINAL"
	RelayErrorInternal          = "RELAY_INTERNAL_ERROR"
)

// NewValidationError rejects malformed input before it touches the store.
func NewValidationError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryValidation, http.StatusUnprocessableEntity, RelayErrorValidation, metadata)
}

// NewAuthenticationError rejects an inbound request whose signature did not
// verify. Raised before any payload parsing.
func NewAuthenticationError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryAuth, http.StatusUnauthorized, RelayErrorAuthentication, metadata)
}

// NewConflictError marks a conditional write that lost a race. Callers on the
// claim path swallow it; it only propagates from the acknowledge path.
func NewConflictError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryConflict, http.StatusConflict, RelayErrorConflict, metadata)
}

func NewNotFoundError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryNotFound, http.StatusNotFound, RelayErrorNotFound, metadata)
}

// NewRetryableDeliveryError records a delivery attempt that should be retried
// after backoff: non-2xx other than terminal 4xx, timeout, connection error.
func NewRetryableDeliveryError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, RelayErrorRetryableDelivery, metadata)
}

// NewTerminalDeliveryError records a delivery failure that must not be
// retried: a non-retryable 4xx or exhausted attempts.
func NewTerminalDeliveryError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryOperation, message, http.StatusBadGateway, RelayErrorTerminalDelivery, metadata)
}

func NewInternalError(source error, message string) error {
	return relayWrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, RelayErrorInternal, nil)
}

func relayError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func relayWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return relayError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func IsValidation(err error) bool { return hasTextCode(err, RelayErrorValidation) }

func IsAuthentication(err error) bool { return hasTextCode(err, RelayErrorAuthentication) }

func IsConflict(err error) bool { return hasTextCode(err, RelayErrorConflict) }

func IsNotFound(err error) bool { return hasTextCode(err, RelayErrorNotFound) }

func IsRetryableDelivery(err error) bool { return hasTextCode(err, RelayErrorRetryableDelivery) }

func IsTerminalDelivery(err error) bool { return hasTextCode(err, RelayErrorTerminalDelivery) }

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// relayErrorMapper normalizes any error into the relay envelope so transport
// boundaries can encode a stable {code, text_code, message} shape.
func relayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return ensureRelayErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryAuth).WithTextCode(RelayErrorAuthentication))
	case strings.Contains(msg, "not found"):
		return ensureRelayErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryNotFound).WithTextCode(RelayErrorNotFound))
	case strings.Contains(msg, "already claimed"), strings.Contains(msg, "conflict"), strings.Contains(msg, "lost race"):
		return ensureRelayErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(RelayErrorConflict))
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "exceeds"):
		return ensureRelayErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryValidation).WithTextCode(RelayErrorValidation))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorValidation
	case goerrors.CategoryNotFound:
		return RelayErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return RelayErrorAuthentication
	case goerrors.CategoryConflict:
		return RelayErrorConflict
	case goerrors.CategoryExternal:
		return RelayErrorRetryableDelivery
	case goerrors.CategoryOperation:
		return RelayErrorTerminalDelivery
	default:
		return RelayErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapError exposes the relay envelope for transport layers outside core.
func MapError(err error) *goerrors.Error {
	return relayErrorMapper(err)
}
