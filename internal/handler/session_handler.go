package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

type sessionService interface {
	Open(ctx context.Context, locator service.Locator) (*models.SessionView, error)
	Close(ctx context.Context) (*models.Session, error)
	Current(ctx context.Context) (*models.SessionView, error)
	Follow(ctx context.Context) (<-chan models.SessionChange, error)
	QRCode(ctx context.Context) ([]byte, error)
}

// SessionHandler exposes the teacher session endpoints.
type SessionHandler struct {
	service   sessionService
	heartbeat time.Duration
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service, heartbeat: defaultHeartbeat}
}

// Open godoc
// @Summary Open an attendance session at the teacher's location
// @Tags Session
// @Accept json
// @Produce json
// @Param payload body dto.OpenSessionRequest true "Teacher location"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /session [post]
func (h *SessionHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	view, err := h.service.Open(c.Request.Context(), locatorFromPayload(req.LocationPayload))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Close godoc
// @Summary Close the current session
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /session/close [post]
func (h *SessionHandler) Close(c *gin.Context) {
	session, err := h.service.Close(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Current godoc
// @Summary Current session status
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) Current(c *gin.Context) {
	view, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessionStatus(view))
}

// Stream godoc
// @Summary Stream session state changes
// @Tags Session
// @Produce text/event-stream
// @Success 200 {string} string "event: session"
// @Router /session/stream [get]
func (h *SessionHandler) Stream(c *gin.Context) {
	changes, err := h.service.Follow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	statuses := make(chan dto.SessionStatus)
	go func() {
		defer close(statuses)
		for change := range changes {
			var view *models.SessionView
			if change.Session != nil {
				view = &models.SessionView{Session: change.Session}
			}
			select {
			case statuses <- sessionStatus(view):
			case <-c.Request.Context().Done():
				return
			}
		}
	}()
	streamEvents(c, statuses, h.heartbeat, func(dto.SessionStatus) string { return "session" })
}

// QRCode godoc
// @Summary QR code pointing at the student entry page
// @Tags Session
// @Produce png
// @Success 200 {file} binary
// @Failure 409 {object} response.Envelope
// @Router /session/qr.png [get]
func (h *SessionHandler) QRCode(c *gin.Context) {
	png, err := h.service.QRCode(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func sessionStatus(view *models.SessionView) dto.SessionStatus {
	if view == nil || view.Session == nil {
		return dto.SessionStatus{}
	}
	opened := view.Session.CreatedAt
	return dto.SessionStatus{
		Active:    view.Session.Active,
		SessionID: view.Session.ID,
		OpenedAt:  &opened,
		EntryURL:  view.EntryURL,
		QRURL:     view.QRURL,
	}
}
