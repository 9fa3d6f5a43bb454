package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/T3-Labs/edge-surface/pkg/capability"
)

// fakeRedis implements the handful of commands the store uses.
type fakeRedis struct {
	redis.Cmdable

	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func TestCapabilityStoreDisabled(t *testing.T) {
	s := NewCapabilityStore(RedisOptions{Enabled: false})
	assert.False(t, s.Enabled())

	state, err := s.Load(context.Background(), "renderD128", "zero_copy")
	require.NoError(t, err)
	assert.Equal(t, capability.StateUnknown, state)
	assert.NoError(t, s.Save(context.Background(), "renderD128", "zero_copy", capability.StateBroken))
	assert.NoError(t, s.Close())
}

func TestCapabilityStoreRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	s := newCapabilityStore(fake, RedisOptions{Prefix: "surfaces", Vhost: "client-a", TTLSeconds: 60, Enabled: true})
	ctx := context.Background()

	state, err := s.Load(ctx, "renderD128", "zero_copy")
	require.NoError(t, err)
	assert.Equal(t, capability.StateUnknown, state)

	require.NoError(t, s.Save(ctx, "renderD128", "zero_copy", capability.StateBroken))
	key := "surfaces:client-a:renderD128:zero_copy"
	assert.Equal(t, key, s.Key("renderD128", "zero_copy"))
	assert.Equal(t, "BROKEN", fake.data[key])
	assert.Equal(t, time.Minute, fake.ttls[key])

	state, err = s.Load(ctx, "renderD128", "zero_copy")
	require.NoError(t, err)
	assert.Equal(t, capability.StateBroken, state)

	// Outro device não enxerga o estado.
	state, err = s.Load(ctx, "renderD129", "zero_copy")
	require.NoError(t, err)
	assert.Equal(t, capability.StateUnknown, state)

	require.NoError(t, s.Save(ctx, "renderD128", "zero_copy", capability.StateUnknown))
	assert.NotContains(t, fake.data, key)
}

func TestCapabilityStoreDefaultVhostAndGarbage(t *testing.T) {
	fake := newFakeRedis()
	s := newCapabilityStore(fake, RedisOptions{Prefix: "p", Enabled: true})
	assert.Equal(t, "p:/:dev:texture_creation", s.Key("dev", "texture_creation"))

	fake.data[s.Key("dev", "texture_creation")] = "talvez"
	state, err := s.Load(context.Background(), "dev", "texture_creation")
	require.NoError(t, err)
	assert.Equal(t, capability.StateUnknown, state)
}

func TestCapabilityStoreErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	s := newCapabilityStore(fake, RedisOptions{Prefix: "p", Enabled: true})

	_, err := s.Load(context.Background(), "dev", "zero_copy")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), "dev", "zero_copy", capability.StateSupported))
}
