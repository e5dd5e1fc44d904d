// Command entitle grants prep entitlement to sessions through redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/sparring-backend/internal/services"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	var sessions idList
	var ttl time.Duration
	flag.Var(&sessions, "session", "session id to entitle (repeatable)")
	flag.DurationVar(&ttl, "ttl", 0, "entitlement lifetime (0 = no expiry)")
	flag.Parse()

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		fmt.Println("REDIS_ADDR is required")
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("at least one -session is required")
		os.Exit(2)
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, raw := range sessions {
		id, err := uuid.Parse(raw)
		if err != nil {
			fmt.Printf("skip %q: %v\n", raw, err)
			failed++
			continue
		}
		if err := services.Grant(ctx, rdb, id, ttl); err != nil {
			fmt.Printf("grant %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("entitled %s\n", id)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
