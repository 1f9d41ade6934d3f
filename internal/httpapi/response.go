package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/validator"
)

// envelope is the body of every JSON response.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, detail *errorDetail) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: detail})
}

// errorStatus maps an engine error to a status code and a stable error code.
// Internal errors hide their message.
func errorStatus(err error) (int, *errorDetail) {
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized, &errorDetail{Code: "unauthorized", Message: err.Error()}
	case errors.Is(err, errBadRequest), errors.Is(err, billing.ErrInvalidWebhookPayload):
		return http.StatusBadRequest, &errorDetail{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, billing.ErrWebhookVerificationFailed):
		return http.StatusUnauthorized, &errorDetail{Code: "invalid_signature", Message: "webhook signature verification failed"}
	case errors.Is(err, entitlement.ErrValidation):
		detail := &errorDetail{Code: "validation_error", Message: err.Error()}
		if verrs := validator.ExtractValidationErrors(err); !verrs.IsEmpty() {
			detail.Details = make(map[string][]string)
			for _, v := range verrs {
				detail.Details[v.Field] = append(detail.Details[v.Field], v.Message)
			}
		}
		return http.StatusUnprocessableEntity, detail
	case errors.Is(err, entitlement.ErrConflict):
		return http.StatusConflict, &errorDetail{Code: "conflict", Message: err.Error()}
	case errors.Is(err, entitlement.ErrNotFound):
		return http.StatusNotFound, &errorDetail{Code: "not_found", Message: err.Error()}
	case errors.Is(err, entitlement.ErrBillingDisabled):
		return http.StatusNotImplemented, &errorDetail{Code: "billing_disabled", Message: err.Error()}
	case errors.Is(err, billing.ErrBillingUnavailable):
		return http.StatusServiceUnavailable, &errorDetail{Code: "billing_unavailable", Message: "billing provider unavailable"}
	default:
		return http.StatusInternalServerError, &errorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
	}
}
