package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

func TestCacheRepositoryRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewCacheRepository(client, "attendance", nil)
	ctx := context.Background()

	var out []byte
	require.ErrorIs(t, repo.Get(ctx, "qr:s1", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "qr:s1", []byte{0x89, 'P', 'N', 'G'}, time.Minute))
	assert.True(t, mr.Exists("attendance:cache:qr:s1"))

	require.NoError(t, repo.Get(ctx, "qr:s1", &out))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, out)

	require.NoError(t, repo.Set(ctx, "qr:s2", []byte("x"), time.Minute))
	require.NoError(t, repo.DeleteByPattern(ctx, "qr:*"))
	assert.False(t, mr.Exists("attendance:cache:qr:s1"))
	assert.False(t, mr.Exists("attendance:cache:qr:s2"))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", nil)
	var out string
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &out), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "k", "v", time.Minute))
}
