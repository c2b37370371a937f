package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// RedisConfig contains Redis-specific configuration for the context store.
type RedisConfig struct {
	// Addr is the Redis server address.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all context store keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "collab:",
	}
}

// RedisStore is a Redis-backed implementation of Store for distributed
// deployments. Items are stored as JSON values; a sorted set indexes all
// live item ids and string keys enforce (owner, title) uniqueness.
// Optimistic updates run under WATCH so concurrent writers collide on
// Conflict rather than losing updates.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed context store and verifies the
// connection.
func NewRedisStore(config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisStore{
		client: client,
		prefix: prefix + "ctx:",
		logger: logger.With(zap.String("component", "context_store_redis")),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: keyPrefix + "ctx:",
		logger: logger.With(zap.String("component", "context_store_redis")),
	}
}

func (s *RedisStore) itemKey(id string) string        { return s.prefix + "item:" + id }
func (s *RedisStore) titleKey(owner, t string) string { return s.prefix + "title:" + owner + "\x00" + t }
func (s *RedisStore) allKey() string                  { return s.prefix + "all" }

// Create stores a new item.
func (s *RedisStore) Create(ctx context.Context, item *Item) (string, error) {
	if err := validateNew(item); err != nil {
		return "", err
	}

	stored := item.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.AccessLevel == "" {
		stored.AccessLevel = AccessOwnerOnly
	}
	now := time.Now()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now

	// Claim the (owner, title) slot first; SETNX loses to a live holder.
	titleKey := s.titleKey(stored.OwnerAgent, stored.Title)
	claimed, err := s.client.SetNX(ctx, titleKey, stored.ID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim title slot: %w", err)
	}
	if !claimed {
		holderID, err := s.client.Get(ctx, titleKey).Result()
		if err == nil {
			if holder, herr := s.getItem(ctx, holderID); herr == nil && !holder.Expired(now) {
				return "", types.ConflictError("context item already exists for owner/title; update it instead").
					WithEntity(holderID)
			}
		}
		// Stale claim from an expired item: take it over.
		if err := s.client.Set(ctx, titleKey, stored.ID, 0).Err(); err != nil {
			return "", fmt.Errorf("failed to reclaim title slot: %w", err)
		}
	}

	if err := s.writeItem(ctx, stored); err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (s *RedisStore) writeItem(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal context item: %w", err)
	}

	var ttl time.Duration
	if item.ExpiresAt != nil {
		ttl = time.Until(*item.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.itemKey(item.ID), data, ttl)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: float64(item.UpdatedAt.UnixNano()), Member: item.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) getItem(ctx context.Context, id string) (*Item, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if err == redis.Nil {
		return nil, types.NotFoundError("context item", id)
	}
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context item: %w", err)
	}
	return &item, nil
}

// Read returns the item if the requesting agent may read it.
func (s *RedisStore) Read(ctx context.Context, id, requestingAgent string) (*Item, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Expired(time.Now()) {
		return nil, types.NotFoundError("context item", id)
	}
	if !item.CanRead(requestingAgent) {
		return nil, types.AccessDeniedError("agent " + requestingAgent + " may not read context item " + id).WithEntity(id)
	}
	return item, nil
}

// Update applies a patch under optimistic concurrency control using WATCH.
func (s *RedisStore) Update(ctx context.Context, id, requestingAgent string, patch Patch) (int64, error) {
	if patch.AccessLevel != nil && !patch.AccessLevel.Valid() {
		return 0, types.NewErrorf(types.ErrInvalidRequest, "unknown access level: %s", *patch.AccessLevel)
	}

	var newVersion int64
	key := s.itemKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return types.NotFoundError("context item", id)
		}
		if err != nil {
			return err
		}

		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("failed to unmarshal context item: %w", err)
		}
		if item.Expired(time.Now()) {
			return types.NotFoundError("context item", id)
		}
		if !item.CanWrite(requestingAgent) {
			return types.AccessDeniedError("agent " + requestingAgent + " may not write context item " + id).WithEntity(id)
		}
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != item.Version {
			return types.NewErrorf(types.ErrConflict,
				"version mismatch for context item %s: expected %d, have %d",
				id, *patch.ExpectedVersion, item.Version).WithEntity(id)
		}

		if patch.Content != nil {
			item.Content = patch.Content.Clone()
		}
		if patch.Tags != nil {
			item.Tags = append([]string(nil), patch.Tags...)
		}
		if patch.AccessLevel != nil {
			item.AccessLevel = *patch.AccessLevel
		}
		if patch.ExpiresAt != nil {
			exp := *patch.ExpiresAt
			item.ExpiresAt = &exp
		}
		item.Version++
		item.UpdatedAt = time.Now()
		newVersion = item.Version

		updated, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("failed to marshal context item: %w", err)
		}

		var ttl time.Duration
		if item.ExpiresAt != nil {
			ttl = time.Until(*item.ExpiresAt)
			if ttl <= 0 {
				ttl = time.Millisecond
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: float64(item.UpdatedAt.UnixNano()), Member: item.ID})
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		// Another writer slipped in between read and write.
		return 0, types.ConflictError("concurrent update on context item " + id).WithEntity(id)
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete removes an item. Only the owner may delete.
func (s *RedisStore) Delete(ctx context.Context, id, requestingAgent string) error {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Expired(time.Now()) {
		return types.NotFoundError("context item", id)
	}
	if requestingAgent != item.OwnerAgent {
		return types.AccessDeniedError("only the owner may delete context item " + id).WithEntity(id)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.itemKey(id))
	pipe.Del(ctx, s.titleKey(item.OwnerAgent, item.Title))
	pipe.ZRem(ctx, s.allKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Search returns ranked, non-expired matches readable by the
// requesting agent.
func (s *RedisStore) Search(ctx context.Context, q Query) ([]*Item, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	matches := make([]*Item, 0)
	for _, id := range ids {
		item, err := s.getItem(ctx, id)
		if err != nil {
			// TTL already dropped the value; the index entry is stale.
			continue
		}
		if item.Expired(now) {
			continue
		}
		if !item.CanRead(q.RequestingAgent) {
			continue
		}
		if !matchesFilters(item, q) {
			continue
		}
		matches = append(matches, item)
	}
	return rank(matches, q), nil
}

// Sweep removes index entries and title claims whose items expired. The
// values themselves are dropped by Redis TTL; the sweep keeps the
// secondary structures honest.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		item, err := s.getItem(ctx, id)
		if types.IsErrorCode(err, types.ErrNotFound) {
			if zerr := s.client.ZRem(ctx, s.allKey(), id).Err(); zerr != nil {
				s.logger.Warn("sweep failed to drop index entry",
					zap.String("item_id", id),
					zap.Error(zerr),
				)
				continue
			}
			removed++
			continue
		}
		if err != nil {
			s.logger.Warn("sweep failed to load item",
				zap.String("item_id", id),
				zap.Error(err),
			)
			continue
		}
		if item.Expired(now) {
			pipe := s.client.Pipeline()
			pipe.Del(ctx, s.itemKey(id))
			pipe.Del(ctx, s.titleKey(item.OwnerAgent, item.Title))
			pipe.ZRem(ctx, s.allKey(), id)
			if _, perr := pipe.Exec(ctx); perr != nil {
				s.logger.Warn("sweep failed to remove expired item",
					zap.String("item_id", id),
					zap.Error(perr),
				)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// Stats returns store statistics.
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stats := &Stats{
		ByAccess: make(map[string]int64),
		ByOwner:  make(map[string]int64),
	}
	for _, id := range ids {
		item, err := s.getItem(ctx, id)
		if err != nil {
			continue
		}
		stats.TotalItems++
		if item.Expired(now) {
			stats.ExpiredItems++
			continue
		}
		stats.ByAccess[string(item.AccessLevel)]++
		stats.ByOwner[item.OwnerAgent]++
	}
	return stats, nil
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
