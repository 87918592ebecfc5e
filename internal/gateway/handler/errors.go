package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/release-approval-gate/internal/domain"
	"go.uber.org/zap"
)

// statusFor — единая таблица соответствия доменных ошибок и HTTP-кодов.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, domain.ErrAlreadyDecided),
		errors.Is(err, domain.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDownstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *ApprovalHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = http.StatusText(code)
	}
	writeJSONError(w, code, msg)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
