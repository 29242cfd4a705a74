package service

import (
	"context"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrCachePrefix = "qr"

// QRService renders PNG QR codes and caches them by key.
type QRService struct {
	cache  *CacheService
	size   int
	ttl    time.Duration
	logger *zap.Logger

	encode func(content string, level qrcode.RecoveryLevel, size int) ([]byte, error)
}

// NewQRService constructs a QRService. cache may be nil.
func NewQRService(cache *CacheService, size int, ttl time.Duration, logger *zap.Logger) *QRService {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QRService{cache: cache, size: size, ttl: ttl, logger: logger, encode: qrcode.Encode}
}

// PNG returns the QR image for content, cached under key.
func (s *QRService) PNG(ctx context.Context, key, content string) ([]byte, error) {
	cacheKey := CacheKey(qrCachePrefix, key)
	var cached []byte
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit && len(cached) > 0 {
		return cached, nil
	}

	png, err := s.encode(content, qrcode.Medium, s.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	_ = s.cache.Set(ctx, cacheKey, png, s.ttl)
	s.logger.Debug("qr rendered", zap.String("key", key), zap.Int("bytes", len(png)))
	return png, nil
}

// Purge drops every cached QR image.
func (s *QRService) Purge(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, CacheKey(qrCachePrefix, "*"))
}
