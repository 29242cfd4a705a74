package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

type signedPhotoOpener interface {
	OpenSigned(token string) (io.ReadCloser, string, error)
}

// PhotoHandler serves photos kept by the local blob store.
type PhotoHandler struct {
	photos signedPhotoOpener
}

// NewPhotoHandler builds a new handler.
func NewPhotoHandler(photos signedPhotoOpener) *PhotoHandler {
	return &PhotoHandler{photos: photos}
}

// Download godoc
// @Summary Download a student photo through a signed link
// @Tags Photos
// @Produce image/jpeg,image/png,image/webp
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /photos/{token} [get]
func (h *PhotoHandler) Download(c *gin.Context) {
	body, contentType, err := h.photos.OpenSigned(c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenExpired):
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "photo link expired"))
		case errors.Is(err, storage.ErrInvalidToken), errors.Is(err, storage.ErrBlobNotFound):
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "photo not found"))
		default:
			response.Error(c, err)
		}
		return
	}
	defer body.Close()

	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}
