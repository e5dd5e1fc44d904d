package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/sparring-backend/internal/platform/gcp"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/platform/openai"
)

type Clients struct {
	Redis   *goredis.Client
	OpenAI  *openai.Client
	Archive gcp.Archive
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("redis ping: %w", err)
		}
		c.Redis = rdb
	} else {
		log.Info("REDIS_ADDR not set; realtime stays in-process and entitlement is open")
	}

	// Openai
	oa, err := openai.NewClient(log)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	c.OpenAI = oa

	// Gcs
	if cfg.ArchiveBucket != "" {
		a, err := gcp.NewArchiveFromEnv(log)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init artifact archive: %w", err)
		}
		c.Archive = a
	}

	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Archive != nil {
		_ = c.Archive.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
