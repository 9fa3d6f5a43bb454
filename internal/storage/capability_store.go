package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/T3-Labs/edge-surface/pkg/capability"
	"github.com/T3-Labs/edge-surface/pkg/logger"
)

// CapabilityStore persists capability states per device in Redis so a path
// found broken in one run is not probed again by the next one. Keys are
// <prefix>:<vhost>:<device>:<capability>.
type CapabilityStore struct {
	client  redis.Cmdable
	ttl     time.Duration
	prefix  string
	vhost   string
	enabled bool
}

type RedisOptions struct {
	Address    string
	Username   string
	Password   string
	TTLSeconds int
	Prefix     string
	Vhost      string
	Enabled    bool
}

func NewCapabilityStore(opts RedisOptions) *CapabilityStore {
	if !opts.Enabled {
		return &CapabilityStore{enabled: false}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Username: opts.Username,
		Password: opts.Password,
	})
	return newCapabilityStore(rdb, opts)
}

func newCapabilityStore(client redis.Cmdable, opts RedisOptions) *CapabilityStore {
	vhost := opts.Vhost
	if vhost == "" {
		vhost = "/"
	}
	return &CapabilityStore{
		client:  client,
		ttl:     time.Duration(opts.TTLSeconds) * time.Second,
		prefix:  opts.Prefix,
		vhost:   vhost,
		enabled: true,
	}
}

func (s *CapabilityStore) Enabled() bool {
	return s.enabled
}

func (s *CapabilityStore) Key(device, name string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, s.vhost, device, name)
}

// Load returns the stored state of capability name for device. Missing or
// unreadable entries are reported as capability.StateUnknown.
func (s *CapabilityStore) Load(ctx context.Context, device, name string) (capability.State, error) {
	if !s.enabled {
		return capability.StateUnknown, nil
	}

	val, err := s.client.Get(ctx, s.Key(device, name)).Result()
	if errors.Is(err, redis.Nil) {
		return capability.StateUnknown, nil
	}
	if err != nil {
		return capability.StateUnknown, fmt.Errorf("failed to load capability from redis: %w", err)
	}

	state, err := capability.ParseState(val)
	if err != nil {
		logger.L().Warnw("Estado de capability inválido no Redis, ignorando",
			"key", s.Key(device, name),
			"value", val)
		return capability.StateUnknown, nil
	}
	return state, nil
}

// Save stores a known state with the configured TTL. Unknown clears the entry.
func (s *CapabilityStore) Save(ctx context.Context, device, name string, state capability.State) error {
	if !s.enabled {
		return nil
	}

	key := s.Key(device, name)
	if state == capability.StateUnknown {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear capability in redis: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, state.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save capability to redis: %w", err)
	}
	return nil
}

func (s *CapabilityStore) Close() error {
	if c, ok := s.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
