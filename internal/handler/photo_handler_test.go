package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

func TestPhotoHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	photos := storage.NewLocalPhotoStore(files, storage.NewSignedURLSigner("secret", time.Hour), "/api/v1/photos")

	obj, err := photos.Upload(context.Background(), "students/1_1_a.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/v1/photos/:token", NewPhotoHandler(photos).Download)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, obj.URL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/photos/bogus", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
