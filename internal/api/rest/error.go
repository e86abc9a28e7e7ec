package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/logger"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	errCodeBadRequest       ErrorCode = "bad_request"
	errCodeNotFound         ErrorCode = "not_found"
	errCodeValidationFailed ErrorCode = "validation_failed"
	errCodeUnauthorized     ErrorCode = "unauthorized"
	errCodeConflict         ErrorCode = "conflict"

	errCodeInsufficientBalance ErrorCode = "insufficient_balance"
	errCodeRedemptionTooSmall  ErrorCode = "redemption_too_small"
	errCodeCodeExpired         ErrorCode = "code_expired"
	errCodeCodeNotActive       ErrorCode = "code_not_active"
	errCodeOrderBelowMinimum   ErrorCode = "order_below_minimum"
	errCodeWalletNotBound      ErrorCode = "wallet_not_bound"
	errCodeInvalidTransition   ErrorCode = "invalid_transition"

	// Server errors (5xx)
	errCodeInternalError ErrorCode = "internal_error"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains error information
type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}

	if len(details) > 0 {
		response.Error.Details = details[0]
	}

	c.JSON(statusCode, response)
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

// respondNotFound sends a 404 Not Found response
func respondNotFound(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusNotFound, errCodeNotFound, message, details...)
}

// respondValidationError sends a 400 Bad Request with validation error
func respondValidationError(c *gin.Context, details string) {
	respondWithError(c, http.StatusBadRequest, errCodeValidationFailed, "Validation failed", details)
}

// respondInternalError sends a 500 Internal Server Error response and logs the error
func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	logger.Error(err, fields...)
	respondWithError(c, http.StatusInternalServerError, errCodeInternalError, message)
}

// respondDomainError maps a service error onto the HTTP surface. Errors
// that are not recognized domain sentinels are treated as internal.
func respondDomainError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondWithError(c, http.StatusBadRequest, errCodeInsufficientBalance, err.Error())
	case errors.Is(err, domain.ErrRedemptionTooSmall):
		respondWithError(c, http.StatusBadRequest, errCodeRedemptionTooSmall, err.Error())
	case errors.Is(err, domain.ErrCodeNotFound):
		respondWithError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		respondWithError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		respondWithError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrCodeExpired):
		respondWithError(c, http.StatusBadRequest, errCodeCodeExpired, err.Error())
	case errors.Is(err, domain.ErrCodeNotActive):
		respondWithError(c, http.StatusBadRequest, errCodeCodeNotActive, err.Error())
	case errors.Is(err, domain.ErrOrderBelowMinimum):
		respondWithError(c, http.StatusBadRequest, errCodeOrderBelowMinimum, err.Error())
	case errors.Is(err, domain.ErrWalletNotBound):
		respondWithError(c, http.StatusBadRequest, errCodeWalletNotBound, err.Error())
	case errors.Is(err, domain.ErrEmptyOrder):
		respondBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		respondWithError(c, http.StatusBadRequest, errCodeValidationFailed, err.Error())
	case errors.Is(err, domain.ErrConcurrentApply):
		respondWithError(c, http.StatusConflict, errCodeConflict, err.Error())
	case errors.Is(err, domain.ErrDuplicateCode):
		respondWithError(c, http.StatusConflict, errCodeConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		respondWithError(c, http.StatusConflict, errCodeInvalidTransition, err.Error())
	default:
		respondInternalError(c, err, message)
	}
}
