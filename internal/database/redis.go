package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions - подключение к кэшу графа конвертаций.
// Кэш читается на каждом пересчете единиц, поэтому пул небольшой, но с запасом простаивающих
type RedisOptions struct {
	URL           string
	SentinelAddrs []string
	MasterName    string
	Password      string
	PoolSize      int
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	return o
}

// minIdle держит четверть пула открытой
func (o RedisOptions) minIdle() int {
	if n := o.PoolSize / 4; n > 0 {
		return n
	}
	return 1
}

// useSentinel - Sentinel включается, когда заданы адреса и имя мастера
func (o RedisOptions) useSentinel() bool {
	return len(o.SentinelAddrs) > 0 && o.MasterName != ""
}

// ConnectRedis подключается напрямую по URL или через Sentinel
func ConnectRedis(opts RedisOptions) (*redis.Client, error) {
	opts = opts.withDefaults()

	var client *redis.Client
	pingTimeout := 5 * time.Second
	if opts.useSentinel() {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    opts.MasterName,
			SentinelAddrs: opts.SentinelAddrs,
			Password:      opts.Password,
			PoolSize:      opts.PoolSize,
			MinIdleConns:  opts.minIdle(),
			MaxRetries:    3,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
		})
		// Sentinel отвечает медленнее
		pingTimeout = 10 * time.Second
	} else {
		if opts.URL == "" {
			return nil, fmt.Errorf("REDIS_URL is empty")
		}
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		parsed.PoolSize = opts.PoolSize
		parsed.MinIdleConns = opts.minIdle()
		parsed.MaxRetries = 3
		client = redis.NewClient(parsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if opts.useSentinel() {
		zap.S().Infof("✅ Redis подключен через Sentinel (master: %s, sentinels: %v)", opts.MasterName, opts.SentinelAddrs)
	} else {
		zap.S().Infof("✅ Redis подключен (пул: %d)", opts.PoolSize)
	}
	return client, nil
}

// CloseRedis закрывает подключение к Redis
func CloseRedis(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
