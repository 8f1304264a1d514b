package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue hands jobs to workers. A popped job stays in flight until it is
// acked or requeued.
type Queue interface {
	Push(ctx context.Context, jobs ...Job) error
	// Pop returns ok=false when no job became available.
	Pop(ctx context.Context) (job Job, ok bool, err error)
	Ack(ctx context.Context, job Job) error
	Requeue(ctx context.Context, job Job) error
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process FIFO queue.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Job
	inFlight map[string]Job
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inFlight: make(map[string]Job)}
}

func (q *MemoryQueue) Push(_ context.Context, jobs ...Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, jobs...)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Job{}, false, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[j.ID] = j
	return j, true, nil
}

func (q *MemoryQueue) Ack(_ context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, j.ID)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, j.ID)
	q.pending = append(q.pending, j)
	return nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// InFlight returns the number of popped jobs not yet acked or requeued.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// RedisQueue shares jobs between worker processes. Pending jobs live in a
// list; popping moves a job atomically onto a processing list so a crashed
// worker's jobs can be recovered.
type RedisQueue struct {
	rc         *redis.Client
	pending    string
	processing string
	wait       time.Duration

	mu  sync.Mutex
	raw map[string]string // in-flight job id -> encoded form on the processing list
}

// NewRedisQueue uses key for pending jobs and key+":processing" for jobs in
// flight. Pop blocks for at most wait.
func NewRedisQueue(rc *redis.Client, key string, wait time.Duration) *RedisQueue {
	if wait <= 0 {
		wait = time.Second
	}
	return &RedisQueue{
		rc:         rc,
		pending:    key,
		processing: key + ":processing",
		wait:       wait,
		raw:        make(map[string]string),
	}
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rc, nil
}

func (q *RedisQueue) Push(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	vals := make([]any, len(jobs))
	for i, j := range jobs {
		raw, err := json.Marshal(j)
		if err != nil {
			return err
		}
		vals[i] = raw
	}
	return q.rc.LPush(ctx, q.pending, vals...).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Job, bool, error) {
	raw, err := q.rc.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.wait).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		// Undecodable entries are dropped.
		q.rc.LRem(ctx, q.processing, 1, raw)
		return Job{}, false, fmt.Errorf("decode job: %w", err)
	}
	q.mu.Lock()
	q.raw[j.ID] = raw
	q.mu.Unlock()
	return j, true, nil
}

func (q *RedisQueue) take(id string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	raw, ok := q.raw[id]
	delete(q.raw, id)
	return raw, ok
}

func (q *RedisQueue) Ack(ctx context.Context, j Job) error {
	raw, ok := q.take(j.ID)
	if !ok {
		return fmt.Errorf("ack job %s: not in flight", j.ID)
	}
	return q.rc.LRem(ctx, q.processing, 1, raw).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, j Job) error {
	raw, ok := q.take(j.ID)
	if !ok {
		return fmt.Errorf("requeue job %s: not in flight", j.ID)
	}
	next, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = q.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, raw)
		p.LPush(ctx, q.pending, next)
		return nil
	})
	return err
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rc.LLen(ctx, q.pending).Result()
	return int(n), err
}

// Recover moves every job left on the processing list back to pending and
// returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rc.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Clear deletes both lists.
func (q *RedisQueue) Clear(ctx context.Context) error {
	return q.rc.Del(ctx, q.pending, q.processing).Err()
}
