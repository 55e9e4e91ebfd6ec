package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// maxTxRetries bounds optimistic-lock retries when a watched collection changes mid-commit
const maxTxRetries = 5

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces the collection hashes, default "docs"
	KeyPrefix string
}

// RedisStore keeps each collection in a Redis hash of id -> JSON document
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "docs"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(collection string) string {
	return r.prefix + ":" + collection
}

// Get returns a single document or ErrNotFound
func (r *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	data, err := r.client.HGet(ctx, r.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

// Query loads the collection hash and filters it client side
func (r *RedisStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	all, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(all))
	for id, body := range all {
		data := json.RawMessage(body)
		ok, err := matchAll(data, filters)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		if ok {
			docs = append(docs, Document{ID: id, Data: data})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Set writes a single document
func (r *RedisStore) Set(ctx context.Context, collection, id string, data interface{}, mergeFields bool) error {
	b := NewBatch()
	if mergeFields {
		b.Merge(collection, id, data)
	} else {
		b.Set(collection, id, data)
	}
	return r.Commit(ctx, b)
}

// Commit watches every touched collection, computes the new documents and
// writes them in one MULTI/EXEC transaction
func (r *RedisStore) Commit(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	keys := make([]string, 0)
	seen := make(map[string]bool)
	for _, op := range batch.Ops() {
		k := r.key(op.Collection)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	txf := func(tx *redis.Tx) error {
		type docKey struct{ hash, id string }
		staged := make(map[docKey]json.RawMessage)
		order := make([]docKey, 0, batch.Len())

		for _, op := range batch.Ops() {
			k := docKey{r.key(op.Collection), op.ID}
			current, ok := staged[k]
			if !ok {
				body, err := tx.HGet(ctx, k.hash, k.id).Bytes()
				switch {
				case errors.Is(err, redis.Nil):
					current = nil
				case err != nil:
					return err
				default:
					current = body
				}
				order = append(order, k)
			}
			next, err := apply(current, op)
			if err != nil {
				return fmt.Errorf("commit %s/%s: %w", op.Collection, op.ID, err)
			}
			staged[k] = next
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range order {
				if data := staged[k]; data != nil {
					pipe.HSet(ctx, k.hash, k.id, []byte(data))
				} else {
					pipe.HDel(ctx, k.hash, k.id)
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			logrus.Debugf("Redis commit conflict on %v, retrying (attempt %d)", keys, attempt+1)
			continue
		}
		if err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		return nil
	}
	return fmt.Errorf("commit batch: %w after %d attempts", redis.TxFailedErr, maxTxRetries)
}
