package biz

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons used across the service. Handlers map these onto HTTP status
// codes through the Kratos errors package.
const (
	ReasonValidation      = "VALIDATION"
	ReasonNotFound        = "NOT_FOUND"
	ReasonTaskConflict    = "TASK_CONFLICT"
	ReasonNoEffect        = "NO_EFFECT"
	ReasonPoolExhausted   = "POOL_EXHAUSTED"
	ReasonExternalService = "EXTERNAL_SERVICE"
	ReasonUnauthorized    = "UNAUTHORIZED"
)

// ValidationError indicates malformed or unacceptable input.
func ValidationError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(400, ReasonValidation, format, args...)
}

// NotFoundError indicates the referenced entity does not exist.
func NotFoundError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(404, ReasonNotFound, format, args...)
}

// TaskConflictError indicates a provisioning task is already in flight.
func TaskConflictError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(409, ReasonTaskConflict, format, args...)
}

// NoEffectError indicates a batch operation produced no additions and no
// updates.
func NoEffectError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(400, ReasonNoEffect, format, args...)
}

// PoolExhaustedError indicates no account could serve the request within the
// configured retry budget.
func PoolExhaustedError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(503, ReasonPoolExhausted, format, args...)
}

// ExternalServiceError indicates an upstream or collaborator failure.
func ExternalServiceError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(502, ReasonExternalService, format, args...)
}

// UnauthorizedError indicates a missing or invalid API key.
func UnauthorizedError(format string, args ...interface{}) *errors.Error {
	return errors.Newf(401, ReasonUnauthorized, format, args...)
}

// IsNotFound reports whether err carries the NOT_FOUND reason.
func IsNotFound(err error) bool {
	return errors.Reason(err) == ReasonNotFound
}

// IsTaskConflict reports whether err carries the TASK_CONFLICT reason.
func IsTaskConflict(err error) bool {
	return errors.Reason(err) == ReasonTaskConflict
}

// IsNoEffect reports whether err carries the NO_EFFECT reason.
func IsNoEffect(err error) bool {
	return errors.Reason(err) == ReasonNoEffect
}

// IsPoolExhausted reports whether err carries the POOL_EXHAUSTED reason.
func IsPoolExhausted(err error) bool {
	return errors.Reason(err) == ReasonPoolExhausted
}

// IsValidation reports whether err carries the VALIDATION reason.
func IsValidation(err error) bool {
	return errors.Reason(err) == ReasonValidation
}
