package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, Response{Data: "hello"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "hello", decode(t, rec).Data)
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, map[string]string{"view": "landing"})

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"view": "landing"}, resp.Data)
}

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = req.WithContext(logger.WithCorrelationID(req.Context(), "req-1"))

	WriteError(rec, req, apperrors.Forbidden("farmers only"), testLogger())

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
	assert.Equal(t, "farmers only", resp.Error.Message)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestWriteError_Sentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("load: %w", apperrors.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{apperrors.ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		WriteError(rec, req, tc.err, testLogger())

		assert.Equal(t, tc.status, rec.Code)
		resp := decode(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, tc.code, resp.Error.Code)
	}
}

func TestWriteError_InternalDoesNotLeakCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(rec, req, fmt.Errorf("redis: connection refused"), testLogger())

	assert.NotContains(t, rec.Body.String(), "redis")
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func TestDecodeJSON_Valid(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@b.com","password":"x"}`))

	var form loginForm
	require.NoError(t, DecodeJSON(rec, req, &form))
	assert.Equal(t, "a@b.com", form.Email)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`))

	var form loginForm
	err := DecodeJSON(rec, req, &form)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDecodeJSON_ValidationErrorIsWrittenWithFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"nope"}`))

	var form loginForm
	err := DecodeJSON(httptest.NewRecorder(), req, &form)
	require.Error(t, err)

	WriteError(rec, req.WithContext(context.Background()), err, testLogger())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "email")
	assert.Contains(t, resp.Error.Fields, "password")
}

func TestRedirect_UsesSeeOther(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	Redirect(rec, req, "/login")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
