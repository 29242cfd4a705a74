package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhotoKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	assert.Equal(t, "students/A100_1700000000123_me.jpg", PhotoKey("A100", "me.jpg", at))
	assert.Equal(t, "students/anon_1700000000123_photo", PhotoKey("  ", "", at))
	assert.Equal(t, "students/A_1_0_1700000000123_my_selfie.png", PhotoKey("A/1 0", `C:\Users\me\my selfie.png`, at))
	assert.Equal(t, "students/A1_1700000000123_passwd", PhotoKey("A1", "../../etc/passwd", at))
}

func TestLocalStorageRejectsEscape(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = files.Save("../outside.txt", []byte("x"))
	require.Error(t, err)
	_, err = files.Save("/etc/passwd", []byte("x"))
	require.Error(t, err)
}

func TestLocalPhotoStoreRoundTrip(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := NewLocalPhotoStore(files, NewSignedURLSigner("secret", time.Hour), "https://attend.example.com/api/v1/photos/")

	obj, err := store.Upload(context.Background(), "students/A100_1_me.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "students/A100_1_me.jpg", obj.Handle)
	require.True(t, strings.HasPrefix(obj.URL, "https://attend.example.com/api/v1/photos/"))

	escaped := strings.TrimPrefix(obj.URL, "https://attend.example.com/api/v1/photos/")
	token, err := url.PathUnescape(escaped)
	require.NoError(t, err)

	rc, contentType, err := store.OpenSigned(token)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)
	assert.Equal(t, "jpeg-bytes", string(body))

	require.NoError(t, store.Delete(context.Background(), obj.Handle))
	_, _, err = store.OpenSigned(token)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	// deleting twice is fine
	require.NoError(t, store.Delete(context.Background(), obj.Handle))
}

func TestFirebaseDownloadURL(t *testing.T) {
	got := FirebaseDownloadURL("demo.appspot.com", "students/A100_1_me.jpg", "tok-1")
	assert.Equal(t, "https://firebasestorage.googleapis.com/v0/b/demo.appspot.com/o/students%2FA100_1_me.jpg?alt=media&token=tok-1", got)
}

func TestLocalPhotoStorePurgeOlderThan(t *testing.T) {
	dir := t.TempDir()
	files, err := NewLocalStorage(dir)
	require.NoError(t, err)
	store := NewLocalPhotoStore(files, NewSignedURLSigner("secret", time.Hour), "/api/v1/photos")

	now := time.Now()
	for key, age := range map[string]time.Duration{
		"students/old_1_a.jpg":   48 * time.Hour,
		"students/fresh_2_b.jpg": time.Minute,
	} {
		_, err := store.Upload(context.Background(), key, []byte("jpeg"), "image/jpeg")
		require.NoError(t, err)
		stamp := now.Add(-age)
		require.NoError(t, os.Chtimes(filepath.Join(dir, filepath.FromSlash(key)), stamp, stamp))
	}

	deleted, err := store.PurgeOlderThan(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"students/old_1_a.jpg"}, deleted)

	_, err = os.Stat(filepath.Join(dir, "students", "fresh_2_b.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "students", "old_1_a.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageCleanupStopsOnCancel(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = files.Save("students/a.jpg", []byte("x"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deleted, err := files.CleanupOlderThan(ctx, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, deleted)
}
