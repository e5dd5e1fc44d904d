package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const defaultClaimTTL = 30 * time.Second

// LiveClaims decides which instance runs the turn runtime of a session. At
// most one holder exists per session; a holder that stops refreshing loses
// the claim after its TTL.
type LiveClaims interface {
	Claim(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Refresh(ctx context.Context, sessionID uuid.UUID) error
	Release(ctx context.Context, sessionID uuid.UUID)
	TTL() time.Duration
}

// LiveOwnerKey is the redis key naming the instance that runs a live session.
func LiveOwnerKey(sessionID uuid.UUID) string {
	return "live:session:" + sessionID.String() + ":owner"
}

// Refresh and release only touch the key while this instance still owns it.
var (
	refreshClaimScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseClaimScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisLiveClaims struct {
	rdb   *goredis.Client
	log   *logger.Logger
	owner string
	ttl   time.Duration
}

// NewLiveClaims claims sessions through redis so only one instance runs a
// session at a time. Without redis, claims are held in process.
func NewLiveClaims(baseLog *logger.Logger, rdb *goredis.Client, ttl time.Duration) LiveClaims {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	if rdb == nil {
		return NewLocalClaims(ttl)
	}
	return &redisLiveClaims{
		rdb:   rdb,
		log:   baseLog.With("service", "LiveClaims"),
		owner: uuid.NewString(),
		ttl:   ttl,
	}
}

func (c *redisLiveClaims) TTL() time.Duration { return c.ttl }

func (c *redisLiveClaims) Claim(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, LiveOwnerKey(sessionID), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("live claim: %w", err)
	}
	return ok, nil
}

func (c *redisLiveClaims) Refresh(ctx context.Context, sessionID uuid.UUID) error {
	n, err := refreshClaimScript.Run(ctx, c.rdb, []string{LiveOwnerKey(sessionID)}, c.owner, c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("live claim refresh: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("live claim for %s lost", sessionID)
	}
	return nil
}

func (c *redisLiveClaims) Release(ctx context.Context, sessionID uuid.UUID) {
	if err := releaseClaimScript.Run(ctx, c.rdb, []string{LiveOwnerKey(sessionID)}, c.owner).Err(); err != nil {
		c.log.Warn("live claim release failed", "session_id", sessionID, "error", err)
	}
}

// LocalClaims holds claims in memory. Services sharing one LocalClaims behave
// like instances sharing one redis.
type LocalClaims struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	expires map[uuid.UUID]time.Time
}

func NewLocalClaims(ttl time.Duration) *LocalClaims {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &LocalClaims{ttl: ttl, now: time.Now, expires: map[uuid.UUID]time.Time{}}
}

func (c *LocalClaims) TTL() time.Duration { return c.ttl }

func (c *LocalClaims) Claim(_ context.Context, sessionID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, held := c.expires[sessionID]; held && now.Before(exp) {
		return false, nil
	}
	c.expires[sessionID] = now.Add(c.ttl)
	return true, nil
}

func (c *LocalClaims) Refresh(_ context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.expires[sessionID]; !held {
		return fmt.Errorf("live claim for %s lost", sessionID)
	}
	c.expires[sessionID] = c.now().Add(c.ttl)
	return nil
}

func (c *LocalClaims) Release(_ context.Context, sessionID uuid.UUID) {
	c.mu.Lock()
	delete(c.expires, sessionID)
	c.mu.Unlock()
}
