package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"formbridge/internal/config"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying Redis connection.
const connectionTimeout = 5 * time.Second

const attachmentKeyPrefix = "formbridge:attachment:"

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// AttachmentIndex remembers which attachment was imported from a source URL
// so repeated deliveries skip the database lookup. Entries expire after ttl;
// zero keeps them forever.
type AttachmentIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttachmentIndex(client *redis.Client, ttl time.Duration) *AttachmentIndex {
	return &AttachmentIndex{client: client, ttl: ttl}
}

// Lookup reports the attachment id stored for sourceURL.
func (idx *AttachmentIndex) Lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	id, err := idx.client.Get(ctx, attachmentKeyPrefix+sourceURL).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return id, true, nil
}

// Remember stores the attachment id for sourceURL.
func (idx *AttachmentIndex) Remember(ctx context.Context, sourceURL, attachmentID string) error {
	if err := idx.client.Set(ctx, attachmentKeyPrefix+sourceURL, attachmentID, idx.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
