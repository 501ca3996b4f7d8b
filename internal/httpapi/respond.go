package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// successResponse is the uniform success envelope.
type successResponse struct {
	Code         int    `json:"code"`
	Content      any    `json:"content,omitempty"`
	NextSetToken string `json:"nextSetToken,omitempty"`
}

// errorResponse is the uniform failure envelope. Reason is a stable
// machine-readable tag; Message is for humans.
type errorResponse struct {
	Code  int          `json:"code"`
	Error errorDetails `json:"error"`
}

type errorDetails struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Stable reason tags, one per error kind.
const (
	reasonMalformedURL        = "malformedUrl"
	reasonMissingParam        = "missingParam"
	reasonMissingCredentials  = "missingProviderCredentials"
	reasonInvalidCredentials  = "invalidProviderCredentials"
	reasonNotFound            = "notFound"
	reasonConflict            = "conflict"
	reasonNotImplemented      = "notImplemented"
	reasonProviderInteraction = "providerInteractionError"
	reasonInvalidClient       = "invalidClient"
	reasonInternalError       = "internalServerError"
)

// statusFor maps a provider error to its HTTP status and reason tag.
// The mapping is 1:1 with the taxonomy; anything unrecognized is an
// internal error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrBadRequest):
		return http.StatusBadRequest, reasonMalformedURL
	case errors.Is(err, provider.ErrMissingParameter):
		return http.StatusBadRequest, reasonMissingParam
	case errors.Is(err, provider.ErrMissingCredentials):
		return http.StatusUnauthorized, reasonMissingCredentials
	case errors.Is(err, provider.ErrInvalidCredentials):
		return http.StatusUnauthorized, reasonInvalidCredentials
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, provider.ErrFileExists):
		return http.StatusConflict, reasonConflict
	case errors.Is(err, provider.ErrNotImplemented):
		return http.StatusNotImplemented, reasonNotImplemented
	case errors.Is(err, provider.ErrProviderInteraction):
		return http.StatusInternalServerError, reasonProviderInteraction
	default:
		return http.StatusInternalServerError, reasonInternalError
	}
}

func (s *Server) respond(w http.ResponseWriter, code int, content any, nextSetToken string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(successResponse{
		Code:         code,
		Content:      content,
		NextSetToken: nextSetToken,
	}); err != nil {
		s.logger.Warn("writing response", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code, reason := statusFor(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}

	s.respondErrorTag(w, code, reason, err.Error())
}

func (s *Server) respondErrorTag(w http.ResponseWriter, code int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(errorResponse{
		Code:  code,
		Error: errorDetails{Message: message, Reason: reason},
	}); err != nil {
		s.logger.Warn("writing error response", slog.String("error", err.Error()))
	}
}
