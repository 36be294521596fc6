package output

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Publisher is the subset of the redis client the alerter uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

type RedisAlerterConfig struct {
	Addr     string
	Password string
	DB       int
	URL      string // redis:// URL; overrides Addr, Password and DB
	Channel  string
	Timeout  time.Duration
}

// RedisAlerter publishes every alert as JSON on a pub/sub channel. The
// per-guild channel "<channel>:<guild_id>" receives a copy so log-channel
// bots can subscribe to one guild.
type RedisAlerter struct {
	client  Publisher
	channel string
	timeout time.Duration

	published atomic.Int64
	failed    atomic.Int64
}

// NewRedisAlerter connects to redis and checks the connection with PING.
func NewRedisAlerter(ctx context.Context, config RedisAlerterConfig) (*RedisAlerter, error) {
	opt := &redis.Options{Addr: config.Addr, Password: config.Password, DB: config.DB}
	if config.URL != "" {
		var err error
		if opt, err = redis.ParseURL(config.URL); err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opt.Addr, err)
	}

	log.Info().Str("addr", opt.Addr).Str("channel", config.Channel).Msg("Redis alert publisher connected")
	return NewRedisAlerterWithClient(rdb, config.Channel, config.Timeout), nil
}

func NewRedisAlerterWithClient(client Publisher, channel string, timeout time.Duration) *RedisAlerter {
	if channel == "" {
		channel = "axion:alerts"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisAlerter{client: client, channel: channel, timeout: timeout}
}

func (a *RedisAlerter) Send(ctx context.Context, alert *domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.client.Publish(ctx, a.channel, payload).Err(); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("publishing alert %s: %w", alert.ID, err)
	}
	if alert.GuildID != "" {
		if err := a.client.Publish(ctx, a.channel+":"+alert.GuildID, payload).Err(); err != nil {
			a.failed.Add(1)
			return fmt.Errorf("publishing alert %s to guild channel: %w", alert.ID, err)
		}
	}
	a.published.Add(1)
	return nil
}

// Stats returns the published and failed alert counts.
func (a *RedisAlerter) Stats() (published, failed int64) {
	return a.published.Load(), a.failed.Load()
}

func (a *RedisAlerter) Flush() error { return nil }

func (a *RedisAlerter) Close() error {
	return a.client.Close()
}
