package rkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rkv/utils/log"
)

type ClientOptions struct {
	Addr         string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KvsClient is a connection to a Redis-compatible store.
type KvsClient struct {
	rdb  *redis.Client
	addr string
}

// Connect dials opts.Addr and checks the store answers PING. Any failure
// is wrapped in ErrConnection. There is no retry.
func Connect(ctx context.Context, opts ClientOptions) (*KvsClient, error) {
	log.Infof("connecting to [%s] db %d", opts.Addr, opts.DB)
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DB:           opts.DB,
		Protocol:     2,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxRetries:   -1,
		PoolSize:     1,
		// skip CLIENT SETINFO on connect
		DisableIndentity: true,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Errorf("connect to [%s] error, %v", opts.Addr, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, opts.Addr, err)
	}
	log.Infof("connect to [%s] success", opts.Addr)
	return &KvsClient{rdb: rdb, addr: opts.Addr}, nil
}

func (c *KvsClient) Set(ctx context.Context, key string, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// Get returns found == false when the store replies nil.
func (c *KvsClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *KvsClient) Remove(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

// Redis exposes the underlying go-redis client for commands this type
// does not wrap.
func (c *KvsClient) Redis() *redis.Client {
	return c.rdb
}

func (c *KvsClient) Close() error {
	log.Debugf("closing connection to [%s]", c.addr)
	return c.rdb.Close()
}
