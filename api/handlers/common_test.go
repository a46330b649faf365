package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentrun/agentrun/types"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusTeapot, map[string]string{"k": "v"})

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]int{"n": 1})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_UsesExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrValidation, "bad input").WithHTTPStatus(http.StatusBadRequest)
	WriteError(rec, err, zap.NewNop())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
	assert.Equal(t, "bad input", resp.Error.Message)
}

func TestWriteError_MapsCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.NewError(types.ErrNotFoundOrExpired, "expired"), zap.NewNop())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWritePlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePlainError(rec, http.StatusConflict, "already processed")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already processed"}`, rec.Body.String())
}

func TestStatusForCode(t *testing.T) {
	cases := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrAuthentication, http.StatusUnauthorized},
		{types.ErrUnauthorized, http.StatusForbidden},
		{types.ErrNotFoundOrExpired, http.StatusNotFound},
		{types.ErrRunNotFound, http.StatusNotFound},
		{types.ErrConflict, http.StatusConflict},
		{types.ErrRunSuperseded, http.StatusConflict},
		{types.ErrTooManyRequests, http.StatusTooManyRequests},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("UNKNOWN"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusForCode(tc.code), string(tc.code))
	}
}

func TestDecodeJSONBody_OK(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeJSONBody(rec, req, &dst, zap.NewNop()))
	assert.Equal(t, "x", dst.Name)
}

func TestDecodeJSONBody_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeJSONBody_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()

	var dst map[string]any
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError) // ignored

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResponseWriter_DefaultsTo200OnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("body"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.Equal(t, "body", rec.Body.String())
}
