package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const firebaseDownloadBase = "https://firebasestorage.googleapis.com/v0/b"

// FirebaseBucketStore keeps photos in a Firebase Storage bucket and hands out
// token based download URLs, the same form the Firebase web SDK returns from
// getDownloadURL.
type FirebaseBucketStore struct {
	bucket   *gcs.BucketHandle
	name     string
	newToken func() string
}

// NewFirebaseBucketStore wraps an opened bucket handle.
func NewFirebaseBucketStore(bucket *gcs.BucketHandle, name string) *FirebaseBucketStore {
	return &FirebaseBucketStore{bucket: bucket, name: name, newToken: uuid.NewString}
}

// Upload writes the object with a download token in its metadata.
func (f *FirebaseBucketStore) Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	token := f.newToken()
	w := f.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("write bucket object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("close bucket object %s: %w", key, err)
	}
	return Object{Handle: key, URL: FirebaseDownloadURL(f.name, key, token)}, nil
}

// Delete removes the object; a missing object is not an error.
func (f *FirebaseBucketStore) Delete(ctx context.Context, handle string) error {
	if err := f.bucket.Object(handle).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete bucket object %s: %w", handle, err)
	}
	return nil
}

// FirebaseDownloadURL renders the public token URL for an object.
func FirebaseDownloadURL(bucket, key, token string) string {
	return fmt.Sprintf("%s/%s/o/%s?alt=media&token=%s", firebaseDownloadBase, bucket, url.PathEscape(key), url.QueryEscape(token))
}
