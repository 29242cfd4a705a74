package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

// ConfirmTokenHeader carries the reset confirmation token.
const ConfirmTokenHeader = "X-Confirm-Token"

type admissionService interface {
	Submit(ctx context.Context, candidate models.Candidate, locator service.Locator) (*models.AdmissionResult, error)
}

type rosterService interface {
	Snapshot(ctx context.Context) (*models.Roster, error)
	Follow(ctx context.Context) (<-chan models.RosterEvent, error)
	Export(ctx context.Context, format string) (*service.ExportFile, error)
}

type resetService interface {
	IssueToken(ctx context.Context) (*models.ResetToken, error)
	ResetRecords(ctx context.Context, token string) (*models.ResetResult, error)
}

// AttendanceHandler exposes student submission and roster endpoints.
type AttendanceHandler struct {
	admission     admissionService
	roster        rosterService
	reset         resetService
	maxPhotoBytes int64
	heartbeat     time.Duration
}

// NewAttendanceHandler builds a new handler. Photo parts larger than
// maxPhotoBytes are dropped before reaching the admission engine.
func NewAttendanceHandler(admission admissionService, roster rosterService, reset resetService, maxPhotoBytes int64) *AttendanceHandler {
	return &AttendanceHandler{
		admission:     admission,
		roster:        roster,
		reset:         reset,
		maxPhotoBytes: maxPhotoBytes,
		heartbeat:     defaultHeartbeat,
	}
}

// Submit godoc
// @Summary Submit attendance
// @Description Accepts JSON or multipart/form-data with an optional "photo" file.
// @Tags Attendance
// @Accept json,mpfd
// @Produce json
// @Param payload body dto.SubmitAttendanceRequest true "Student submission"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	candidate := models.Candidate{Name: req.Name, RegistrationNumber: req.RegistrationNumber}
	photo, warning := h.readPhoto(c)
	candidate.Photo = photo

	result, err := h.admission.Submit(c.Request.Context(), candidate, locatorFromPayload(req.LocationPayload))
	if err != nil {
		response.Error(c, err)
		return
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	response.WithWarnings(c, http.StatusCreated, result.Record, result.Warnings)
}

// readPhoto returns the optional photo part. Unreadable or oversized parts
// become a warning instead of failing the submission.
func (h *AttendanceHandler) readPhoto(c *gin.Context) (*models.PhotoUpload, string) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, ""
	}
	header, err := c.FormFile("photo")
	if err != nil {
		return nil, ""
	}
	if h.maxPhotoBytes > 0 && header.Size > h.maxPhotoBytes {
		return nil, models.WarningPhotoUploadFailed
	}
	file, err := header.Open()
	if err != nil {
		return nil, models.WarningPhotoUploadFailed
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, models.WarningPhotoUploadFailed
	}
	return &models.PhotoUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, ""
}

// List godoc
// @Summary Roster snapshot, newest first
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	roster, err := h.roster.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster.Records, map[string]interface{}{"count": roster.Count})
}

// Stream godoc
// @Summary Live roster: one snapshot event, then one entry event per new record
// @Tags Attendance
// @Produce text/event-stream
// @Success 200 {string} string "event: snapshot|entry|reset"
// @Router /attendance/stream [get]
func (h *AttendanceHandler) Stream(c *gin.Context) {
	events, err := h.roster.Follow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	streamEvents(c, events, h.heartbeat, func(ev models.RosterEvent) string { return string(ev.Type) })
}

// Export godoc
// @Summary Download the roster
// @Tags Attendance
// @Produce text/csv,application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	file, err := h.roster.Export(c.Request.Context(), c.DefaultQuery("format", service.FormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// IssueResetToken godoc
// @Summary Issue a confirmation token for clearing all records
// @Tags Attendance
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /attendance/reset-token [post]
func (h *AttendanceHandler) IssueResetToken(c *gin.Context) {
	token, err := h.reset.IssueToken(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, token)
}

// Reset godoc
// @Summary Delete every attendance record
// @Tags Attendance
// @Produce json
// @Param X-Confirm-Token header string true "Token from /attendance/reset-token"
// @Success 200 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /attendance [delete]
func (h *AttendanceHandler) Reset(c *gin.Context) {
	result, err := h.reset.ResetRecords(c.Request.Context(), strings.TrimSpace(c.GetHeader(ConfirmTokenHeader)))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
