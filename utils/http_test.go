package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusTeapot, map[string]string{"k": "v"}))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestWriteJSON_NilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusNoContent, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWriteOK(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteOK(rec, []string{"a", "b"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["a","b"]}`, rec.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter) error
		wantStatus int
		wantError  string
		wantMsg    string
	}{
		{
			"bad request",
			func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad input", nil) },
			http.StatusBadRequest, "bad_request", "bad input",
		},
		{
			"not found default message",
			func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			http.StatusNotFound, "not_found", "Resource not found",
		},
		{
			"rate limited default message",
			func(w http.ResponseWriter) error { return WriteTooManyRequests(w, "", nil) },
			http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded",
		},
		{
			"internal default message",
			func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			http.StatusInternalServerError, "internal_error", "Internal server error",
		},
		{
			"bad gateway default message",
			func(w http.ResponseWriter) error { return WriteBadGateway(w, "", nil) },
			http.StatusBadGateway, "bad_gateway", "Upstream provider error",
		},
		{
			"service unavailable default message",
			func(w http.ResponseWriter) error { return WriteServiceUnavailable(w, "", nil) },
			http.StatusServiceUnavailable, "service_unavailable", "No provider available",
		},
		{
			"gateway timeout default message",
			func(w http.ResponseWriter) error { return WriteGatewayTimeout(w, "", nil) },
			http.StatusGatewayTimeout, "gateway_timeout", "Upstream provider timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, tt.write(rec))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}

func TestWriteBadRequest_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteBadRequest(rec, "invalid", map[string]interface{}{"field": "model"}))

	body := decodeError(t, rec)
	assert.Equal(t, "model", body.Details["field"])
}
