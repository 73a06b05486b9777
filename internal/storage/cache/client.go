package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions configures the Redis connection.
type ClientOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client with short timeouts so a slow Redis
// degrades to the database instead of stalling checkout. The connection is
// established lazily.
func NewClient(opts ClientOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}
