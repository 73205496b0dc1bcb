package database

import (
	"testing"
	"time"
)

func TestPostgresOptionsDefaults(t *testing.T) {
	opts := PostgresOptions{URL: "postgres://localhost/erp"}.withDefaults()
	if opts.MaxOpenConns != 25 || opts.MaxIdleConns != 10 {
		t.Errorf("unexpected pool: %d open, %d idle", opts.MaxOpenConns, opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime != 5*time.Minute || opts.ConnMaxIdleTime != time.Minute {
		t.Errorf("unexpected lifetimes: %v / %v", opts.ConnMaxLifetime, opts.ConnMaxIdleTime)
	}

	small := PostgresOptions{MaxOpenConns: 4, MaxIdleConns: 8, ConnMaxLifetime: time.Hour}.withDefaults()
	if small.MaxOpenConns != 4 || small.MaxIdleConns != 4 || small.ConnMaxLifetime != time.Hour {
		t.Errorf("configured pool must be kept and idle capped: %+v", small)
	}
}

func TestConnectPostgresRequiresURL(t *testing.T) {
	if _, err := ConnectPostgres(PostgresOptions{}); err == nil {
		t.Errorf("expected error for empty url")
	}
}

func TestRedisOptions(t *testing.T) {
	opts := RedisOptions{}.withDefaults()
	if opts.PoolSize != 20 || opts.minIdle() != 5 {
		t.Errorf("unexpected redis pool: %d / %d", opts.PoolSize, opts.minIdle())
	}
	if (RedisOptions{PoolSize: 2}).minIdle() != 1 {
		t.Errorf("min idle must stay positive")
	}
	if (RedisOptions{SentinelAddrs: []string{"s1:26379"}}).useSentinel() {
		t.Errorf("sentinel needs a master name")
	}
	if _, err := ConnectRedis(RedisOptions{}); err == nil {
		t.Errorf("expected error without url and sentinels")
	}
}
