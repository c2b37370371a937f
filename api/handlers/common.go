// Package handlers implements the HTTP handlers of the collaboration
// API. Every operation is a thin binding over the core components;
// no business rules live here.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// Response is the unified API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo is the serialized error payload.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteCreated writes a 201 envelope.
func WriteCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError maps a core error onto the HTTP surface. NoCandidate and
// CycleDetected keep their distinct codes in the body so callers can
// tell a correctable configuration problem from a transient fault.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := types.HTTPStatusFor(err)

	info := &ErrorInfo{
		Code:    string(types.ErrInternal),
		Message: err.Error(),
	}
	var typed *types.Error
	if e, ok := asTypedError(err); ok {
		typed = e
		info.Code = string(e.Code)
		info.Message = e.Message
		info.Entity = e.Entity
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.Int("status", status),
		}
		if typed != nil && typed.Cause != nil {
			fields = append(fields, zap.Error(typed.Cause))
		}
		logger.Warn("request failed", fields...)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now().UTC(),
	})
}

func asTypedError(err error) (*types.Error, bool) {
	var e *types.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ReadJSON decodes the request body into v, rejecting unknown fields.
func ReadJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid request body").WithCause(err)
	}
	return nil
}
