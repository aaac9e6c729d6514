// Package redisstore is a Redis-backed implementation of backend.Backend for
// setups where object data must outlive the serving process. Objects are
// content-addressed like memstore; per-client references live in Redis sets
// and a per-object refcount key, so release semantics match the in-memory
// store.
package redisstore

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/datapath-io/datapath/backend"
	"github.com/datapath-io/datapath/wire"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: DATAPATH_KEY_PREFIX
	KeyPrefix string `env:"DATAPATH_KEY_PREFIX,default=datapath:"`
}

// Store implements backend.Backend on a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies reachability.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(cl, cfg.KeyPrefix), nil
}

// NewFromClient wraps an existing Redis client.
func NewFromClient(cl *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "datapath:"
	}
	return &Store{client: cl, keyPrefix: keyPrefix}
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redisstore config: %w", err)
	}
	return New(cfg)
}

func (s *Store) objectKey(id string) string { return s.keyPrefix + "obj:" + id }
func (s *Store) refcountKey(id string) string {
	return s.keyPrefix + "rc:" + id
}
func (s *Store) clientRefsKey(clientID string) string {
	return s.keyPrefix + "refs:" + clientID
}

func (s *Store) Init(ctx context.Context, req *wire.InitRequest) (*wire.InitResponse, error) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &wire.InitResponse{Msg: fmt.Sprintf("redis unreachable: %v", err)}, nil
	}
	return &wire.InitResponse{OK: true}, nil
}

func (s *Store) GetObject(ctx context.Context, clientID string, req *wire.GetRequest) (*wire.GetResponse, error) {
	data, err := s.client.Get(ctx, s.objectKey(req.ID)).Bytes()
	if err == redis.Nil {
		return &wire.GetResponse{Error: fmt.Sprintf("%v: %s", backend.ErrObjectNotFound, req.ID)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", req.ID, err)
	}
	return &wire.GetResponse{Valid: true, Data: data}, nil
}

// AsyncGetObject degrades to a synchronous lookup: Redis reads are fast and
// the store has no completion callbacks, so there is never a deferred result.
func (s *Store) AsyncGetObject(ctx context.Context, clientID string, reqID uint64, req *wire.GetRequest, deliver func(*wire.Response)) (*wire.GetResponse, error) {
	return s.GetObject(ctx, clientID, req)
}

func (s *Store) PutObject(ctx context.Context, clientID string, req *wire.PutRequest) (*wire.PutResponse, error) {
	id := fmt.Sprintf("%016x", xxhash.Sum64(req.Data))

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.objectKey(id), req.Data, 0)
	added := pipe.SAdd(ctx, s.clientRefsKey(clientID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis put %s: %w", id, err)
	}
	// Only a first reference from this client bumps the refcount.
	if added.Val() > 0 {
		if err := s.client.Incr(ctx, s.refcountKey(id)).Err(); err != nil {
			return nil, fmt.Errorf("redis incr refcount %s: %w", id, err)
		}
	}
	return &wire.PutResponse{ID: id, Valid: true}, nil
}

func (s *Store) Release(ctx context.Context, clientID string, id string) bool {
	removed, err := s.client.SRem(ctx, s.clientRefsKey(clientID), id).Result()
	if err != nil || removed == 0 {
		return false
	}
	s.dropReference(ctx, id)
	return true
}

func (s *Store) dropReference(ctx context.Context, id string) {
	left, err := s.client.Decr(ctx, s.refcountKey(id)).Result()
	if err != nil || left > 0 {
		return
	}
	s.client.Del(ctx, s.objectKey(id), s.refcountKey(id))
}

func (s *Store) ReleaseAll(ctx context.Context, clientID string) {
	key := s.clientRefsKey(clientID)
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		s.dropReference(ctx, id)
	}
	s.client.Del(ctx, key)
}

func (s *Store) PrepRuntimeEnv(ctx context.Context, req *wire.PrepRuntimeEnvRequest) (*wire.PrepRuntimeEnvResponse, error) {
	return &wire.PrepRuntimeEnvResponse{}, nil
}

func (s *Store) Shutdown(ctx context.Context) error {
	return s.client.Close()
}

var _ backend.Backend = (*Store)(nil)
