package engine

import (
	"errors"
	"fmt"
)

// Delivery failures surfaced by the webhook pipeline.
var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrEmptyPayload     = errors.New("no data received")
	ErrRecordCreation   = errors.New("failed to create record")
	ErrFilterEvaluation = errors.New("failed to evaluate filter")
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// deliveryFailure maps a pipeline error onto the status and message a form
// builder sees. Anything unrecognised is an internal error.
func deliveryFailure(err error) (int, string) {
	switch {
	case errors.Is(err, ErrWebhookNotFound):
		return 404, "Webhook not found"
	case errors.Is(err, ErrEmptyPayload):
		return 400, "No data received"
	case errors.Is(err, ErrRecordCreation):
		return 500, "Failed to create record"
	case errors.Is(err, ErrFilterEvaluation):
		return 500, "Failed to evaluate filter"
	default:
		return 500, "Internal server error"
	}
}
