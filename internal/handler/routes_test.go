package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/internal/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := service.NewMetricsService()
	store := service.NewInstrumentedStore(repository.NewMemoryStore(), metrics)
	t.Cleanup(func() { _ = store.Close() })

	qr := service.NewQRService(nil, 128, time.Minute, nil)
	sessions := service.NewSessionService(store, qr, service.SessionConfig{
		LocationTimeout: time.Second,
		PublicBaseURL:   "http://localhost:8080",
		APIPrefix:       "/api/v1",
	}, metrics, nil)
	admission := service.NewAdmissionService(store, nil, service.DefaultAdmissionConfig(), nil, metrics, nil)
	roster := service.NewRosterService(store, time.UTC, metrics, nil)
	reset := service.NewResetService(store, nil, service.ResetConfig{TokenSecret: "test"}, nil)

	r := gin.New()
	RegisterRoutes(r, "/api/v1", Handlers{
		Session:    NewSessionHandler(sessions),
		Attendance: NewAttendanceHandler(admission, roster, reset, 1<<20),
		Metrics:    NewMetricsHandler(metrics, store),
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, w.Body)
	errBody, ok := env["error"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return errBody["code"].(string)
}

func TestAttendanceFlow(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ana","registration_number":"1","latitude":0,"longitude":0}`, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_ACTIVE_SESSION", errorCode(t, w))

	w = doJSON(t, r, http.MethodPost, "/api/v1/session", `{"latitude":0,"longitude":0}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ana","registration_number":"1","latitude":0,"longitude":0.0001}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ana again","registration_number":"1","latitude":0,"longitude":0}`, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_SIGNED", errorCode(t, w))

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ben","registration_number":"2","latitude":0,"longitude":0.001}`, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TOO_FAR", errorCode(t, w))

	w = doJSON(t, r, http.MethodGet, "/api/v1/attendance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEnvelope(t, w.Body)["data"], 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/session/qr.png", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/session/close", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodPost, "/api/v1/session/close", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Cai","registration_number":"3","latitude":0,"longitude":0}`, nil)
	assert.Equal(t, "SESSION_CLOSED", errorCode(t, w))
}

func TestResetFlow(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/api/v1/session", `{"latitude":0,"longitude":0}`, nil).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ana","registration_number":"1","latitude":0,"longitude":0}`, nil).Code)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/attendance", "", nil)
	require.Equal(t, http.StatusPreconditionRequired, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance/reset-token", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var tokenEnv struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokenEnv))

	w = doJSON(t, r, http.MethodDelete, "/api/v1/attendance", "", map[string]string{ConfirmTokenHeader: tokenEnv.Data.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/attendance", `{"name":"Ana","registration_number":"1","latitude":0,"longitude":0}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestProbes(t *testing.T) {
	r := newTestRouter(t)
	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/metrics", "", nil).Code)
}
