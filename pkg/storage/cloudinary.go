package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const cloudinaryAPI = "https://api.cloudinary.com/v1_1"

// CloudinaryStore uploads photos through Cloudinary's signed REST API.
type CloudinaryStore struct {
	cloudName string
	apiKey    string
	apiSecret string
	folder    string
	endpoint  string
	http      *http.Client
	now       func() time.Time
}

type cloudinaryResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Result    string `json:"result"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinaryStore constructs a Cloudinary backed BlobStore.
func NewCloudinaryStore(cloudName, apiKey, apiSecret, folder string, client *http.Client) (*CloudinaryStore, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("cloudinary credentials incomplete")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CloudinaryStore{
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		folder:    folder,
		endpoint:  cloudinaryAPI,
		http:      client,
		now:       time.Now,
	}, nil
}

// WithEndpoint overrides the API base URL.
func (c *CloudinaryStore) WithEndpoint(endpoint string) *CloudinaryStore {
	c.endpoint = strings.TrimRight(endpoint, "/")
	return c
}

// Upload sends data as an image and returns the secure delivery URL.
func (c *CloudinaryStore) Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	publicID := strings.TrimSuffix(key, path.Ext(key))
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	if c.folder != "" {
		params["folder"] = c.folder
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range c.signed(params) {
		if err := w.WriteField(k, v); err != nil {
			return Object{}, fmt.Errorf("cloudinary: write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return Object{}, fmt.Errorf("cloudinary: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Object{}, fmt.Errorf("cloudinary: write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("cloudinary: close form: %w", err)
	}

	result, err := c.post(ctx, "image/upload", w.FormDataContentType(), &buf)
	if err != nil {
		return Object{}, err
	}
	if result.SecureURL == "" {
		return Object{}, fmt.Errorf("cloudinary: upload returned no url")
	}
	return Object{Handle: result.PublicID, URL: result.SecureURL}, nil
}

// Delete destroys the image identified by handle (its public id).
func (c *CloudinaryStore) Delete(ctx context.Context, handle string) error {
	params := map[string]string{
		"public_id":  handle,
		"invalidate": "true",
		"timestamp":  strconv.FormatInt(c.now().Unix(), 10),
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range c.signed(params) {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("cloudinary: write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cloudinary: close form: %w", err)
	}

	result, err := c.post(ctx, "image/destroy", w.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	switch result.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cloudinary: destroy %s: %s", handle, result.Result)
	}
}

func (c *CloudinaryStore) post(ctx context.Context, action, contentType string, body io.Reader) (*cloudinaryResult, error) {
	url := fmt.Sprintf("%s/%s/%s", c.endpoint, c.cloudName, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cloudinary: read response: %w", err)
	}
	var result cloudinaryResult
	_ = json.Unmarshal(raw, &result)
	if resp.StatusCode >= 300 {
		msg := string(raw)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("cloudinary: %s failed (%d): %s", action, resp.StatusCode, msg)
	}
	return &result, nil
}

// signed returns params plus api_key and signature. The signature covers
// every non-empty param except api_key, file and resource_type.
func (c *CloudinaryStore) signed(params map[string]string) map[string]string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))

	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["api_key"] = c.apiKey
	out["signature"] = fmt.Sprintf("%x", h.Sum(nil))
	return out
}
