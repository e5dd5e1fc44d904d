package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// EntitlementKey is the redis key whose presence authorizes prep for a session.
func EntitlementKey(sessionID uuid.UUID) string {
	return "entitlement:session:" + sessionID.String()
}

type redisEntitlementGate struct {
	rdb *goredis.Client
	log *logger.Logger
}

// NewEntitlementGate checks entitlement keys in redis. With no redis client
// every session is authorized.
func NewEntitlementGate(baseLog *logger.Logger, rdb *goredis.Client) ports.EntitlementGate {
	if rdb == nil {
		baseLog.Info("entitlement gate disabled (no redis); all sessions authorized")
		return AllowAll{}
	}
	return &redisEntitlementGate{rdb: rdb, log: baseLog.With("service", "EntitlementGate")}
}

func (g *redisEntitlementGate) Authorized(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := g.rdb.Exists(ctx, EntitlementKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("entitlement lookup: %w", err)
	}
	return n > 0, nil
}

// Grant authorizes a session for ttl (0 means no expiry).
func Grant(ctx context.Context, rdb *goredis.Client, sessionID uuid.UUID, ttl time.Duration) error {
	return rdb.Set(ctx, EntitlementKey(sessionID), "1", ttl).Err()
}

type AllowAll struct{}

func (AllowAll) Authorized(context.Context, uuid.UUID) (bool, error) { return true, nil }
