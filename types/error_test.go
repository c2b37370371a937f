package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrConflict, "pending delegation exists")
	assert.Equal(t, "[CONFLICT] pending delegation exists", err.Error())

	wrapped := NewError(ErrInternal, "sweep failed").WithCause(errors.New("boom"))
	assert.Equal(t, "[INTERNAL_ERROR] sweep failed: boom", wrapped.Error())
	assert.Equal(t, "boom", errors.Unwrap(wrapped).Error())
}

func TestError_CodeExtraction(t *testing.T) {
	err := NotFoundError("task", "t-1")
	assert.Equal(t, ErrNotFound, GetErrorCode(err))
	assert.True(t, IsErrorCode(err, ErrNotFound))
	assert.False(t, IsErrorCode(err, ErrConflict))
	assert.Equal(t, "t-1", err.Entity)

	// Codes survive fmt wrapping.
	deep := fmt.Errorf("handler: %w", err)
	assert.True(t, IsErrorCode(deep, ErrNotFound))

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrAccessDenied, http.StatusForbidden},
		{ErrCycleDetected, http.StatusUnprocessableEntity},
		{ErrNoCandidate, http.StatusUnprocessableEntity},
		{ErrInvalidState, http.StatusUnprocessableEntity},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFor(NewError(tt.code, "x")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFor(errors.New("plain")))
}

func TestPayload_RoundTrip(t *testing.T) {
	type result struct {
		Score float64 `json:"score"`
		Notes string  `json:"notes"`
	}

	p, err := NewPayload(result{Score: 0.9, Notes: "ok"})
	require.NoError(t, err)
	require.False(t, p.IsZero())

	var got result
	require.NoError(t, p.Decode(&got))
	assert.Equal(t, 0.9, got.Score)
	assert.Equal(t, "ok", got.Notes)

	clone := p.Clone()
	assert.Equal(t, p, clone)
}

func TestPayload_DecodeErrors(t *testing.T) {
	var empty Payload
	var v map[string]any
	err := empty.Decode(&v)
	assert.True(t, IsErrorCode(err, ErrInvalidRequest))

	bad := Payload(`{"a":`)
	err = bad.Decode(&v)
	assert.True(t, IsErrorCode(err, ErrInvalidRequest))
}
