package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/trioll/trioll-developer-portal/internal/adapter/cache"
)

func TestRedisKeySetStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewRedisKeySetStore(client)
	url := "https://idp.trioll.test/.well-known/jwks.json"

	missing, err := store.GetKeySet(ctx, url)
	require.NoError(t, err)
	require.Nil(t, missing)

	payload := []byte(`{"keys":[]}`)
	require.NoError(t, store.SaveKeySet(ctx, url, payload, time.Minute))

	got, err := store.GetKeySet(ctx, url)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	mr.FastForward(2 * time.Minute)
	expired, err := store.GetKeySet(ctx, url)
	require.NoError(t, err)
	require.Nil(t, expired)
}
