package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/platform/completion"
	"github.com/yungbote/nort-backend/internal/realtime/bus"
)

type Clients struct {
	Completion completion.Client
	// Redis and EventBus stay nil without REDIS_ADDR.
	Redis    *goredis.Client
	EventBus bus.Bus
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	out := Clients{Completion: completion.NewClient(log, cfg.Completion)}

	if cfg.RedisAddr == "" {
		return out, nil
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	out.Redis = rdb
	out.EventBus = bus.NewRedisBusWithClient(log, rdb, cfg.RedisChannel)
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.EventBus != nil {
		_ = c.EventBus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
