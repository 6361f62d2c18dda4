// Command prune-connection-index removes members of the conversation:*:connections
// index sets whose connection hash no longer exists.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/pscheid92/councilcast/internal/adapter/redis"
	"github.com/pscheid92/councilcast/internal/platform/logging"
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun   = flag.Bool("dry-run", false, "Only report stale members, don't remove them")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
		timeout  = flag.Duration("timeout", 10*time.Minute, "Overall time limit")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rdb, err := redis.NewClient(ctx, *redisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	start := time.Now()
	report, err := redis.PruneStaleIndex(ctx, rdb, *dryRun)
	if err != nil {
		log.Fatalf("Pruning failed: %v", err)
	}

	slog.Info("Index pruning summary",
		"dry_run", *dryRun,
		"indexes_scanned", report.IndexesScanned,
		"members_checked", report.MembersChecked,
		"stale_members", report.StaleMembers,
		"removed", report.Removed,
		"duration_ms", time.Since(start).Milliseconds())
}

// sanitizeURL hides the password of a Redis URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "redis://***"
	}
	return u.Redacted()
}
