package handlers

import (
	"encoding/json"
	"net/http"

	"hairgen/internal/hairgen"
	"hairgen/internal/infra"
)

// App bundles the orchestrator behind the HTTP surface.
type App struct {
	Orchestrator *hairgen.Orchestrator
	Logger       infra.Logger
}

func NewApp(orch *hairgen.Orchestrator, logger infra.Logger) *App {
	return &App{Orchestrator: orch, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code       string `json:"code"`
	MessageKey string `json:"message_key"`
	Severity   string `json:"severity"`
	Retryable  bool   `json:"retryable"`
	Locale     string `json:"locale,omitempty"`
}

// classifiedError writes a taxonomy error with its HTTP mapping. The body
// carries code, severity and the localization key; the raw diagnostic stays
// in the logs.
func (a *App) classifiedError(w http.ResponseWriter, locale string, cerr *hairgen.ClassifiedError) {
	a.json(w, statusForCode(cerr.Code), errorResponse{
		Code:       string(cerr.Code),
		MessageKey: cerr.MessageKey,
		Severity:   string(cerr.Severity),
		Retryable:  cerr.Retryable,
		Locale:     locale,
	})
}

func statusForCode(code hairgen.Code) int {
	switch code {
	case hairgen.CodeValidationImage, hairgen.CodeValidationStyle:
		return http.StatusBadRequest
	case hairgen.CodeRateLimited:
		return http.StatusTooManyRequests
	case hairgen.CodeAuthUnauthorized, hairgen.CodeWrongAccount:
		return http.StatusBadGateway
	case hairgen.CodeTimeout:
		return http.StatusGatewayTimeout
	case hairgen.CodeCanceled:
		return http.StatusRequestTimeout
	case hairgen.CodeProviderServerError, hairgen.CodeEmptyOutput, hairgen.CodeNetworkError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
