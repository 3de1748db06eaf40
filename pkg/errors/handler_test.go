package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandle_AppError(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assignments", nil)
	err := fmt.Errorf("create: %w", NewValidationError("title is required").WithCode("invalid_assignment"))

	h.Handle(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeResponse(t, rec)
	assert.True(t, body.Error)
	assert.Equal(t, "VALIDATION", body.Type)
	assert.Equal(t, "title is required", body.Message)
	assert.Equal(t, "invalid_assignment", body.Code)
}

func TestHandle_UnclassifiedErrorIsHidden(t *testing.T) {
	tests := []struct {
		debug   bool
		message string
	}{
		{false, "An internal error occurred"},
		{true, "connection reset"},
	}

	for _, tt := range tests {
		h := NewErrorHandler(zap.NewNop(), tt.debug)
		rec := httptest.NewRecorder()

		h.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("connection reset"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, tt.message, decodeResponse(t, rec).Message)
	}
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)
	handler := h.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "panic: boom", decodeResponse(t, rec).Message)
}

func TestGetAppError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewNotFoundError("assignment"))

	appErr := GetAppError(err)

	require.NotNil(t, appErr)
	assert.Equal(t, ErrorTypeNotFound, appErr.Type)
	assert.Equal(t, "assignment not found", appErr.Message)
	assert.Nil(t, GetAppError(fmt.Errorf("plain")))
}
