// Package redis implements the KV Store port (domain.KVStore) against
// Redis, using server-side Lua scripts for every atomic multi-key
// operation.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// Client implements domain.KVStore.
type Client struct {
	rdb goredis.UniversalClient

	ipCounterScript   *goredis.Script
	scoreUpdateScript *goredis.Script
	record1v1Script   *goredis.Script
	finalOrderScript  *goredis.Script
	getDelManyScript  *goredis.Script
	delMultipleScript *goredis.Script
}

// New wraps an existing go-redis client, pre-registering the six
// server-side scripts.
func New(rdb goredis.UniversalClient) *Client {
	return &Client{
		rdb:               rdb,
		ipCounterScript:   goredis.NewScript(ipCounterBatchScript),
		scoreUpdateScript: goredis.NewScript(scoreUpdateBatchScript),
		record1v1Script:   goredis.NewScript(record1v1BatchScript),
		finalOrderScript:  goredis.NewScript(finalOrderScript),
		getDelManyScript:  goredis.NewScript(getDelManyScript),
		delMultipleScript: goredis.NewScript(delMultipleScript),
	}
}

// SetChallenge writes "{topic_id}:ballot:{ballot_id}" -> "{left},{right}"
// with the configured TTL.
func (c *Client) SetChallenge(ctx context.Context, topicID, ballotID string, left, right int32, ttlSeconds int) error {
	key := challengeKey(topicID, ballotID)
	val := fmt.Sprintf("%d,%d", left, right)
	ttl := time.Duration(ttlSeconds) * time.Second
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("op=kv.SetChallenge: %w: %v", domain.ErrKVStore, err)
	}
	return nil
}

func challengeKey(topicID, ballotID string) string {
	return topicID + ":ballot:" + ballotID
}

// IPCounterBatch runs IP_COUNTER_BATCH: increments+TTLs one counter key
// per distinct IP under topicID and returns the per-IP multiplier.
func (c *Client) IPCounterBatch(ctx context.Context, topicID string, ips []string, expireSeconds int, maxIPLimit int64, baseMultiplier, lowMultiplier int32) (map[string]int32, error) {
	if len(ips) == 0 {
		return map[string]int32{}, nil
	}
	keys := make([]string, len(ips))
	for i, ip := range ips {
		keys[i] = fmt.Sprintf("%s:ip_counter:%s", topicID, ip)
	}

	res, err := c.ipCounterScript.Run(ctx, c.rdb, keys, expireSeconds, maxIPLimit, baseMultiplier, lowMultiplier).Result()
	if err != nil {
		return nil, fmt.Errorf("op=kv.IPCounterBatch: %w: %v", domain.ErrKVStore, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != len(ips) {
		return nil, fmt.Errorf("op=kv.IPCounterBatch: %w: unexpected script result shape", domain.ErrKVStore)
	}
	out := make(map[string]int32, len(ips))
	for i, ip := range ips {
		out[ip] = int32(toInt64(vals[i]))
	}
	return out, nil
}

// ScoreUpdateBatch runs SCORE_UPDATE_BATCH over flattened
// (topicID, win, lose, multiplier) quadruples.
func (c *Client) ScoreUpdateBatch(ctx context.Context, updates []domain.ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(updates)*4)
	for _, u := range updates {
		args = append(args, u.TopicID, u.Win, u.Lose, u.Multiplier)
	}
	if _, err := c.scoreUpdateScript.Run(ctx, c.rdb, nil, args...).Result(); err != nil {
		return fmt.Errorf("op=kv.ScoreUpdateBatch: %w: %v", domain.ErrKVStore, err)
	}
	return nil
}

// Record1v1Batch runs RECORD_1V1_BATCH over flattened
// (topicID, min, max) triples.
func (c *Client) Record1v1Batch(ctx context.Context, pairs []domain.EncounterPair) error {
	if len(pairs) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(pairs)*3)
	for _, p := range pairs {
		args = append(args, p.TopicID, p.Min, p.Max)
	}
	if _, err := c.record1v1Script.Run(ctx, c.rdb, nil, args...).Result(); err != nil {
		return fmt.Errorf("op=kv.Record1v1Batch: %w: %v", domain.ErrKVStore, err)
	}
	return nil
}

// FinalOrder runs FINAL_ORDER for topicID over the given operator IDs.
func (c *Client) FinalOrder(ctx context.Context, topicID string, ids []int32) ([]*int64, []*int64, int64, error) {
	if len(ids) == 0 {
		return nil, nil, 0, nil
	}
	fields := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		fields = append(fields, fmt.Sprintf("%d:win", id))
	}
	for _, id := range ids {
		fields = append(fields, fmt.Sprintf("%d:lose", id))
	}

	res, err := c.finalOrderScript.Run(ctx, c.rdb, []string{topicID}, fields...).Result()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("op=kv.FinalOrder: %w: %v", domain.ErrKVStore, err)
	}
	top, ok := res.([]interface{})
	if !ok || len(top) != 2 {
		return nil, nil, 0, fmt.Errorf("op=kv.FinalOrder: %w: unexpected script result shape", domain.ErrKVStore)
	}
	rawStats, ok := top[0].([]interface{})
	if !ok || len(rawStats) != len(ids)*2 {
		return nil, nil, 0, fmt.Errorf("op=kv.FinalOrder: %w: unexpected stats shape", domain.ErrKVStore)
	}
	total := toInt64(top[1])

	wins := make([]*int64, len(ids))
	loses := make([]*int64, len(ids))
	for i := range ids {
		wins[i] = parseNullableInt(rawStats[i])
		loses[i] = parseNullableInt(rawStats[len(ids)+i])
	}
	return wins, loses, total, nil
}

// Matrix returns the full op_matrix and op_counter hashes for topicID.
func (c *Client) Matrix(ctx context.Context, topicID string) (map[string]int64, map[string]int64, error) {
	matrixRaw, err := c.rdb.HGetAll(ctx, topicID+":op_matrix").Result()
	if err != nil {
		return nil, nil, fmt.Errorf("op=kv.Matrix: %w: %v", domain.ErrKVStore, err)
	}
	counterRaw, err := c.rdb.HGetAll(ctx, topicID+":op_counter").Result()
	if err != nil {
		return nil, nil, fmt.Errorf("op=kv.Matrix: %w: %v", domain.ErrKVStore, err)
	}

	matrix := make(map[string]int64, len(matrixRaw))
	for k, v := range matrixRaw {
		n, _ := strconv.ParseInt(v, 10, 64)
		matrix[k] = n
	}
	counter := make(map[string]int64, len(counterRaw))
	for k, v := range counterRaw {
		n, _ := strconv.ParseInt(v, 10, 64)
		counter[k] = n
	}
	return matrix, counter, nil
}

// GetDelMany runs GET_DEL_MANY: atomically reads and deletes every
// present key. This is the single consume primitive for ballot
// challenges, so a replayed save finds nothing.
func (c *Client) GetDelMany(ctx context.Context, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := c.getDelManyScript.Run(ctx, c.rdb, keys).Result()
	if err != nil {
		return nil, fmt.Errorf("op=kv.GetDelMany: %w: %v", domain.ErrKVStore, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != len(keys) {
		return nil, fmt.Errorf("op=kv.GetDelMany: %w: unexpected script result shape", domain.ErrKVStore)
	}
	out := make([]*string, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = &s
		}
	}
	return out, nil
}

// DelMultiple runs DEL_MULTIPLE over the given keys, used by the skip
// consumer to discard outstanding challenge keys in one round trip.
func (c *Client) DelMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.delMultipleScript.Run(ctx, c.rdb, keys).Result(); err != nil {
		return fmt.Errorf("op=kv.DelMultiple: %w: %v", domain.ErrKVStore, err)
	}
	return nil
}

func parseNullableInt(v interface{}) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil
		}
		return &n
	default:
		n := toInt64(v)
		return &n
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	default:
		return 0
	}
}
