package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

type admissionServiceMock struct {
	result        *models.AdmissionResult
	err           error
	lastCandidate models.Candidate
	lastLocator   service.Locator
}

func (m *admissionServiceMock) Submit(ctx context.Context, candidate models.Candidate, locator service.Locator) (*models.AdmissionResult, error) {
	m.lastCandidate = candidate
	m.lastLocator = locator
	return m.result, m.err
}

type rosterServiceMock struct {
	roster   *models.Roster
	events   chan models.RosterEvent
	file     *service.ExportFile
	exportFn string
	err      error
}

func (m *rosterServiceMock) Snapshot(ctx context.Context) (*models.Roster, error) {
	return m.roster, m.err
}

func (m *rosterServiceMock) Follow(ctx context.Context) (<-chan models.RosterEvent, error) {
	return m.events, m.err
}

func (m *rosterServiceMock) Export(ctx context.Context, format string) (*service.ExportFile, error) {
	m.exportFn = format
	return m.file, m.err
}

type resetServiceMock struct {
	token     *models.ResetToken
	result    *models.ResetResult
	err       error
	lastToken string
}

func (m *resetServiceMock) IssueToken(ctx context.Context) (*models.ResetToken, error) {
	return m.token, m.err
}

func (m *resetServiceMock) ResetRecords(ctx context.Context, token string) (*models.ResetResult, error) {
	m.lastToken = token
	return m.result, m.err
}

func acceptedResult() *models.AdmissionResult {
	return &models.AdmissionResult{Record: &models.AttendanceRecord{ID: "r1", Name: "Ana", RegistrationNumber: "123", DistanceMeters: 12}}
}

func TestAttendanceHandlerSubmitJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admission := &admissionServiceMock{result: acceptedResult()}
	handler := NewAttendanceHandler(admission, &rosterServiceMock{}, &resetServiceMock{}, 1024)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"name":"Ana","registration_number":"123","latitude":0,"longitude":0,"captured_at":1700000000000}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ana", admission.lastCandidate.Name)
	assert.Nil(t, admission.lastCandidate.Photo)

	reported := admission.lastLocator.(service.ReportedPosition)
	require.NotNil(t, reported.Latitude)
	assert.Zero(t, *reported.Latitude)
	assert.Equal(t, int64(1700000000000), reported.CapturedAt.UnixMilli())

	env := decodeEnvelope(t, w.Body)
	assert.Equal(t, "r1", env["data"].(map[string]interface{})["id"])
	assert.Nil(t, env["warnings"])
}

func multipartSubmission(t *testing.T, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("name", "Ana"))
	require.NoError(t, writer.WriteField("registration_number", "123"))
	require.NoError(t, writer.WriteField("latitude", "1.5"))
	require.NoError(t, writer.WriteField("longitude", "2.5"))
	part, err := writer.CreateFormFile("photo", "selfie.jpg")
	require.NoError(t, err)
	_, err = part.Write(photo)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestAttendanceHandlerSubmitMultipart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admission := &admissionServiceMock{result: acceptedResult()}
	handler := NewAttendanceHandler(admission, &rosterServiceMock{}, &resetServiceMock{}, 1024)

	body, contentType := multipartSubmission(t, []byte("jpeg-bytes"))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, admission.lastCandidate.Photo)
	assert.Equal(t, "selfie.jpg", admission.lastCandidate.Photo.Filename)
	assert.Equal(t, []byte("jpeg-bytes"), admission.lastCandidate.Photo.Data)
	assert.Equal(t, 1.5, *admission.lastLocator.(service.ReportedPosition).Latitude)
}

func TestAttendanceHandlerOversizedPhotoBecomesWarning(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admission := &admissionServiceMock{result: acceptedResult()}
	handler := NewAttendanceHandler(admission, &rosterServiceMock{}, &resetServiceMock{}, 4)

	body, contentType := multipartSubmission(t, []byte("far too many bytes"))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, admission.lastCandidate.Photo)
	env := decodeEnvelope(t, w.Body)
	assert.Equal(t, []interface{}{models.WarningPhotoUploadFailed}, env["warnings"])
}

func TestAttendanceHandlerSubmitRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"too far":       {err: appErrors.WithDetails(appErrors.ErrTooFar, map[string]interface{}{"distance_meters": 45}), status: http.StatusForbidden, code: "TOO_FAR"},
		"already":       {err: appErrors.Clone(appErrors.ErrAlreadySigned, ""), status: http.StatusConflict, code: "ALREADY_SIGNED"},
		"closed":        {err: appErrors.Clone(appErrors.ErrSessionClosed, ""), status: http.StatusConflict, code: "SESSION_CLOSED"},
		"persistence":   {err: appErrors.Clone(appErrors.ErrPersistence, ""), status: http.StatusServiceUnavailable, code: "PERSISTENCE_ERROR"},
		"validation":    {err: appErrors.Clone(appErrors.ErrValidation, ""), status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		"no session":    {err: appErrors.Clone(appErrors.ErrNoActiveSession, ""), status: http.StatusConflict, code: "NO_ACTIVE_SESSION"},
		"location":      {err: appErrors.Clone(appErrors.ErrLocation, ""), status: http.StatusUnprocessableEntity, code: "LOCATION_ERROR"},
		"store offline": {err: appErrors.Clone(appErrors.ErrStoreUnavailable, ""), status: http.StatusServiceUnavailable, code: "STORE_UNAVAILABLE"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := NewAttendanceHandler(&admissionServiceMock{err: tc.err}, &rosterServiceMock{}, &resetServiceMock{}, 0)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"name":"Ana"}`))
			req.Header.Set("Content-Type", "application/json")
			c.Request = req

			handler.Submit(c)
			require.Equal(t, tc.status, w.Code)
			env := decodeEnvelope(t, w.Body)
			assert.Equal(t, tc.code, env["error"].(map[string]interface{})["code"])
		})
	}
}

func TestAttendanceHandlerRetryableSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttendanceHandler(&admissionServiceMock{err: appErrors.Clone(appErrors.ErrPersistence, "")}, &rosterServiceMock{}, &resetServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/attendance", bytes.NewBufferString(`{"name":"Ana"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestAttendanceHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	roster := &rosterServiceMock{roster: &models.Roster{Records: []models.AttendanceRecord{{ID: "b"}, {ID: "a"}}, Count: 2}}
	handler := NewAttendanceHandler(&admissionServiceMock{}, roster, &resetServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/attendance", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w.Body)
	assert.Len(t, env["data"], 2)
	assert.Equal(t, 2.0, env["meta"].(map[string]interface{})["count"])
}

func TestAttendanceHandlerStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	events := make(chan models.RosterEvent, 2)
	events <- models.RosterEvent{Type: models.RosterEventSnapshot, Roster: &models.Roster{}, Count: 0}
	events <- models.RosterEvent{Type: models.RosterEventEntry, Record: &models.AttendanceRecord{ID: "r1"}, Count: 1}
	close(events)
	handler := NewAttendanceHandler(&admissionServiceMock{}, &rosterServiceMock{events: events}, &resetServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/attendance/stream", nil)

	handler.Stream(c)
	body := w.Body.String()
	assert.True(t, strings.Index(body, "event:snapshot") < strings.Index(body, "event:entry"))
	assert.Equal(t, 1, strings.Count(body, "event:entry"))
}

func TestAttendanceHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	roster := &rosterServiceMock{file: &service.ExportFile{Filename: "attendance.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}}
	handler := NewAttendanceHandler(&admissionServiceMock{}, roster, &resetServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/attendance/export?format=pdf", nil)

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf", roster.exportFn)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="attendance.pdf"`, w.Header().Get("Content-Disposition"))
}

func TestAttendanceHandlerReset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reset := &resetServiceMock{result: &models.ResetResult{Removed: 3}}
	handler := NewAttendanceHandler(&admissionServiceMock{}, &rosterServiceMock{}, reset, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/attendance", nil)
	req.Header.Set(ConfirmTokenHeader, " tok ")
	c.Request = req

	handler.Reset(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", reset.lastToken)
}

func TestAttendanceHandlerResetWithoutConfirmation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reset := &resetServiceMock{err: appErrors.Clone(appErrors.ErrConfirmationRequired, "")}
	handler := NewAttendanceHandler(&admissionServiceMock{}, &rosterServiceMock{}, reset, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodDelete, "/attendance", nil)

	handler.Reset(c)
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
}
