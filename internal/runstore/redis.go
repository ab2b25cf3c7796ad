package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

const redisIndexKey = "newsletter:runs"

// RedisStore keeps run metadata as JSON, node states in a hash per run and
// a sorted set of run ids by start time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client. A zero ttl keeps runs forever.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func runKey(id string) string   { return "newsletter:run:" + id }
func nodesKey(id string) string { return "newsletter:run:" + id + ":nodes" }

func (s *RedisStore) StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error {
	rec, err := newRunRecord(rc, plan)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(rc.RunID), data, s.ttl)
	pipe.Del(ctx, nodesKey(rc.RunID))
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.StartedAt.UnixMilli()), Member: rc.RunID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error {
	return s.putNode(ctx, runID, startedNode(node, attempt, s.now()))
}

func (s *RedisStore) NodeFinished(ctx context.Context, runID string, entry executor.LogEntry) error {
	return s.putNode(ctx, runID, finishedNode(entry))
}

func (s *RedisStore) putNode(ctx context.Context, runID string, n NodeRecord) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, nodesKey(runID), n.NodeID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, nodesKey(runID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) FinishRun(ctx context.Context, runID string, result executor.Result) error {
	rec, err := s.meta(ctx, runID)
	if err != nil {
		return err
	}
	finished := s.now().UTC()
	final := result.Final
	rec.Status = RunStatus(result)
	rec.Final = &final
	rec.FinalError = result.FinalErr
	rec.FinishedAt = &finished
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, runKey(runID), data, s.ttl).Err()
}

func (s *RedisStore) meta(ctx context.Context, runID string) (RunRecord, error) {
	raw, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RunRecord{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	rec, err := s.meta(ctx, runID)
	if err != nil {
		return RunRecord{}, err
	}
	nodes, err := s.client.HGetAll(ctx, nodesKey(runID)).Result()
	if err != nil {
		return RunRecord{}, err
	}
	for _, raw := range nodes {
		var n NodeRecord
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return RunRecord{}, fmt.Errorf("decode node of run %s: %w", runID, err)
		}
		rec.Nodes = mergeNode(rec.Nodes, n)
	}
	return rec, nil
}

// List returns the most recent runs first. Expired runs are pruned from the index.
func (s *RedisStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.ZRem(ctx, redisIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Client exposes the connection for other components sharing it.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
