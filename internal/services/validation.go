package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/zibana/backend/internal/payout"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Machine-readable error code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendLedgerError maps the ledger and payout error taxonomy onto HTTP codes
// so callers can tell "add funds" from "try again later" from "already
// settled" instead of one generic failure string.
func SendLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, ErrInsufficientFunds):
		status, code = http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrInvalidEscrowState):
		status, code = http.StatusConflict, "INVALID_ESCROW_STATE"
	case errors.Is(err, ErrWalletNotFound):
		status, code = http.StatusNotFound, "WALLET_NOT_FOUND"
	case errors.Is(err, ErrNothingPending):
		status, code = http.StatusConflict, "NOTHING_PENDING"
	case errors.Is(err, payout.ErrNotConfigured):
		status, code = http.StatusServiceUnavailable, "PROVIDER_NOT_CONFIGURED"
	case errors.Is(err, payout.ErrUnavailable):
		status, code = http.StatusBadGateway, "PROVIDER_UNAVAILABLE"
	case errors.Is(err, payout.ErrRejected):
		status, code = http.StatusUnprocessableEntity, "PROVIDER_REJECTED"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: code})
}
