package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func statusFor(err error) int {
	var (
		verr  *domain.ValidationError
		nferr *domain.NotFoundError
		serr  *domain.InvalidStateError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &nferr):
		return http.StatusNotFound
	case errors.As(err, &serr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// strict writes data on success and the mapped failure otherwise.
func (s *Server) strict(w http.ResponseWriter, status int, message string, data any, err error) {
	if err != nil {
		s.fail(w, message, err)
		return
	}
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

// fail maps err onto a status code. message names the failed operation.
func (s *Server) fail(w http.ResponseWriter, message string, err error) {
	body := envelope{Success: false, Message: message, Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Message = "Validation failed"
		body.Errors = verr.Fields
	}
	s.writeJSON(w, statusFor(err), body)
}

// bestEffort always answers 200 with whatever data the use case produced.
// Input errors still fail so callers can fix their request.
func (s *Server) bestEffort(w http.ResponseWriter, message string, data any, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		s.fail(w, message, err)
		return
	}
	body := envelope{Success: true, Data: data}
	if err != nil {
		s.logger.Warn(message, zap.Error(err))
		body.Message = "some data is unavailable; zeroed values were substituted"
	}
	s.writeJSON(w, http.StatusOK, body)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		verr := domain.NewValidationError()
		verr.Add("body", "must be a valid JSON object: "+err.Error())
		return verr
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		verr := domain.NewValidationError()
		verr.Add("id", "must be a positive integer")
		return 0, verr
	}
	return id, nil
}

// queryInt reads an optional integer parameter, recording a field error.
func queryInt(r *http.Request, name string, verr *domain.ValidationError) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(name, "must be a non-negative integer")
		return 0
	}
	return n
}
