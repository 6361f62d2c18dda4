package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const indexScanCount = 500

// IndexReport summarizes one pass over the conversation index sets.
type IndexReport struct {
	IndexesScanned int
	MembersChecked int
	StaleMembers   int
	Removed        int
}

// PruneStaleIndex scans every conversation index set and removes members whose
// connection hash no longer exists or now belongs to another conversation.
// With dryRun set, stale members are only counted.
func PruneStaleIndex(ctx context.Context, rdb goredis.UniversalClient, dryRun bool) (IndexReport, error) {
	var report IndexReport

	iter := rdb.Scan(ctx, 0, conversationIndexKey("*"), indexScanCount).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		conversationID, ok := conversationFromIndexKey(indexKey)
		if !ok {
			continue
		}
		report.IndexesScanned++

		stale, checked, err := staleMembers(ctx, rdb, indexKey, conversationID)
		if err != nil {
			return report, err
		}
		report.MembersChecked += checked
		report.StaleMembers += len(stale)

		if len(stale) == 0 {
			continue
		}
		slog.DebugContext(ctx, "Stale index members found", "conversation_id", conversationID, "count", len(stale))
		if dryRun {
			continue
		}

		removed, err := rdb.SRem(ctx, indexKey, stale...).Result()
		if err != nil {
			return report, fmt.Errorf("failed to prune index %s: %w", indexKey, err)
		}
		report.Removed += int(removed)
	}
	if err := iter.Err(); err != nil {
		return report, fmt.Errorf("failed to scan conversation indexes: %w", err)
	}

	return report, nil
}

func staleMembers(ctx context.Context, rdb goredis.UniversalClient, indexKey, conversationID string) ([]any, int, error) {
	ids, err := rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}

	cmds := make([]*goredis.StringCmd, len(ids))
	_, err = rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, connectionKey(id), fieldConversationID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, fmt.Errorf("failed to load connections of %s: %w", indexKey, err)
	}

	var stale []any
	for i, cmd := range cmds {
		if cmd.Val() != conversationID {
			stale = append(stale, ids[i])
		}
	}
	return stale, len(ids), nil
}

func conversationFromIndexKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "conversation:")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ":connections")
}
