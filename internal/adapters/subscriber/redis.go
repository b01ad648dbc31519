package subscriber

import (
	"context"
	"fmt"
	"io"

	redis "github.com/redis/go-redis/v9"

	"github.com/ghalamif/AegisStream/internal/ports"
)

const DefaultRedisChannel = "aegis:stream"

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Publisher is the subset of *redis.Client used to fan frames out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes every frame on a pub/sub channel.
type Redis struct {
	pub     Publisher
	channel string
}

func NewRedis(pub Publisher, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{pub: pub, channel: channel}
}

// DialRedis builds a client for cfg.Addr and checks it with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis subscriber: %w", ports.ErrMissingDestination)
	}
	c := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedis(c, cfg.Channel), nil
}

func (r *Redis) ID() string { return "redis:" + r.channel }

func (r *Redis) Send(ctx context.Context, frame []byte) error {
	if err := r.pub.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if c, ok := r.pub.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ ports.Subscriber = (*Redis)(nil)
