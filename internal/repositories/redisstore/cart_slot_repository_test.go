package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

type fakeClient struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func TestCartSlotRepository_RoundTrip(t *testing.T) {
	client := newFakeClient()
	repo, err := NewCartSlotRepository(client, WithTTL(72*time.Hour))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Write(ctx, "enc_ojawa_cart_guest:01H", "iv:ct"))
	assert.Equal(t, "iv:ct", client.values["ojawa:enc_ojawa_cart_guest:01H"])
	assert.Equal(t, 72*time.Hour, client.ttls["ojawa:enc_ojawa_cart_guest:01H"])

	got, err := repo.Read(ctx, "enc_ojawa_cart_guest:01H")
	require.NoError(t, err)
	assert.Equal(t, "iv:ct", got)

	require.NoError(t, repo.Delete(ctx, "enc_ojawa_cart_guest:01H"))
	_, err = repo.Read(ctx, "enc_ojawa_cart_guest:01H")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
	assert.NoError(t, repo.Ping(ctx))
}

func TestCartSlotRepository_BackendFailureIsUnavailable(t *testing.T) {
	client := newFakeClient()
	client.failGet = errors.New("connection refused")
	repo, err := NewCartSlotRepository(client, WithKeyPrefix(""))
	require.NoError(t, err)

	_, err = repo.Read(context.Background(), "slot")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.False(t, repoErr.IsNotFound())
	assert.True(t, repoErr.IsUnavailable())
}

func TestCartSlotRepository_RejectsBlankKey(t *testing.T) {
	repo, err := NewCartSlotRepository(newFakeClient())
	require.NoError(t, err)
	assert.Error(t, repo.Write(context.Background(), "  ", "payload"))

	_, err = NewCartSlotRepository(nil)
	assert.Error(t, err)
}
