package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"live-quiz-service/internal/domain"
)

type errorBody struct {
	Code              domain.Code `json:"code"`
	Error             string      `json:"error"`
	RetryAfterSeconds int         `json:"retryAfterSeconds,omitempty"`
}

// statusFor maps a domain error code onto an HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeInvalidState, domain.CodeAlreadyStarted, domain.CodeAlreadyExists,
		domain.CodeAlreadyAnswered, domain.CodeStaleQuestion:
		return http.StatusConflict
	case domain.CodeCooldownActive:
		return http.StatusTooManyRequests
	case domain.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes err as {code, error}. Internal failures do not leak their message.
func respondError(w http.ResponseWriter, err error) {
	body := errorBody{Code: domain.CodeOf(err), Error: err.Error()}
	status := statusFor(body.Code)
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	if de := asDomain(err); de != nil && de.RetryAfter > 0 {
		body.RetryAfterSeconds = int(math.Ceil(de.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	respondJSON(w, body, status)
}

func asDomain(err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// readJSON decodes a request body. An empty body leaves dest untouched.
func readJSON(body io.Reader, dest any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && err != io.EOF {
		return domain.Wrap(domain.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}
