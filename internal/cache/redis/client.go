// Package redis implements the ratecore index cache, per-key write locks,
// the event bus and request rate limiting on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scripts are loaded into the server's script cache on connect so the
// first publish, unlock or rate-limit check runs EVALSHA directly. Loading
// also fails fast against a server with scripting disabled.
var scripts = []*redis.Script{
	setIndexScript,
	unlockScript,
	slidingWindowScript,
}

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// DialTimeout bounds connect and the startup checks; 0 means 5s.
	DialTimeout time.Duration
}

// Client owns the go-redis connection shared by the cache, lock manager,
// bus and rate limiter.
type Client struct {
	rdb *redis.Client
}

// New connects, verifies the server with PING and preloads the Lua scripts.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: dialTimeout,
		ClientName:  "ratecore",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts)}

	startCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := c.Ping(startCtx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	if err := c.loadScripts(startCtx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adapts an existing go-redis client without any startup checks.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) loadScripts(ctx context.Context) error {
	for _, sc := range scripts {
		if err := sc.Load(ctx, c.rdb).Err(); err != nil {
			return fmt.Errorf("redis: load script %s: %w", sc.Hash(), err)
		}
	}
	return nil
}

// Ping checks the Redis connection. It doubles as the health probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
