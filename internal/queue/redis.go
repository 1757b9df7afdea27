// Package queue implements the transfer work queue on Redis lists.
//
// Layout for a queue named q:
//
//	q:ready             list of jobs waiting for a worker (LPUSH in, BRPOPLPUSH out)
//	q:processing:<id>   jobs consumer <id> has taken but not yet acknowledged
//	q:consumer:<id>     heartbeat of consumer <id>, expires after HeartbeatTTL
//	q:consumers         set of consumer ids that may own a processing list
//	q:delayed           sorted set of jobs waiting out a retry backoff, scored by due time in ms
//	q:dead              list of jobs that exhausted their attempts
//
// Delivery is at least once. Each consumer only takes back its own
// processing list and the lists of consumers whose heartbeat has expired,
// so replicas sharing a queue never steal each other's in-flight jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one delivered transaction id. A non-nil error schedules a retry.
type Handler func(ctx context.Context, transactionID uuid.UUID) error

type Options struct {
	Name            string
	Workers         int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PollTimeout     time.Duration
	PromoteInterval time.Duration
	PromoteBatch    int
	// ConsumerID names this consumer's processing list. Defaults to a random id.
	ConsumerID   string
	HeartbeatTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "ledger:transfers"
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Second
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = 500 * time.Millisecond
	}
	if o.PromoteBatch <= 0 {
		o.PromoteBatch = 100
	}
	if o.ConsumerID == "" {
		o.ConsumerID = uuid.NewString()
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = 30 * time.Second
	}
	return o
}

type job struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Attempts      int       `json:"attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastError     string    `json:"last_error"`
}

// Depth reports how many jobs sit in each list.
type Depth struct {
	Ready      int64
	Processing int64
	Delayed    int64
	Dead       int64
}

// promoteScript atomically moves due jobs from the delayed set to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, payload in ipairs(due) do
	redis.call('ZREM', KEYS[1], payload)
	redis.call('LPUSH', KEYS[2], payload)
end
return #due
`)

type RedisQueue struct {
	client redis.UniversalClient
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	readyKey      string
	processingKey string
	heartbeatKey  string
	consumersKey  string
	delayedKey    string
	deadKey       string
}

func NewRedisQueue(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisQueue {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client:        client,
		opts:          opts,
		logger:        logger.With(zap.String("queue", opts.Name), zap.String("consumer_id", opts.ConsumerID)),
		now:           time.Now,
		readyKey:      opts.Name + ":ready",
		processingKey: processingKeyFor(opts.Name, opts.ConsumerID),
		heartbeatKey:  heartbeatKeyFor(opts.Name, opts.ConsumerID),
		consumersKey:  opts.Name + ":consumers",
		delayedKey:    opts.Name + ":delayed",
		deadKey:       opts.Name + ":dead",
	}
}

func processingKeyFor(name, consumerID string) string {
	return name + ":processing:" + consumerID
}

func heartbeatKeyFor(name, consumerID string) string {
	return name + ":consumer:" + consumerID
}

// Enqueue adds a transaction id for processing.
func (q *RedisQueue) Enqueue(ctx context.Context, transactionID uuid.UUID) error {
	payload, err := json.Marshal(job{TransactionID: transactionID, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", transactionID, err)
	}
	return nil
}

// Consume runs the worker pool until ctx is canceled. In-flight jobs finish
// before it returns.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.heartbeat(ctx); err != nil {
		return err
	}
	defer q.deregister(context.WithoutCancel(ctx))

	recovered, err := q.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.logger.Warn("requeued unacknowledged jobs", zap.Int("count", recovered))
	}

	q.logger.Info("queue consumers starting", zap.Int("workers", q.opts.Workers), zap.Int("max_attempts", q.opts.MaxAttempts))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		g.Go(func() error {
			q.work(gctx, handler)
			return nil
		})
	}
	g.Go(func() error {
		q.promoteLoop(gctx)
		return nil
	})
	err = g.Wait()
	q.logger.Info("queue consumers stopped")
	return err
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		if _, err := q.processNext(ctx, handler); err != nil && ctx.Err() == nil {
			q.logger.Error("queue receive failed", zap.Error(err))
			sleep(ctx, q.opts.BackoffBase)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processNext waits for one job and handles it. It reports whether a job was taken.
func (q *RedisQueue) processNext(ctx context.Context, handler Handler) (bool, error) {
	raw, err := q.client.BRPopLPush(ctx, q.readyKey, q.processingKey, q.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("receive job: %w", err)
	}

	// Acknowledgement survives shutdown; an unacked job is redelivered anyway.
	ackCtx := context.WithoutCancel(ctx)

	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		q.logger.Error("dropping malformed job to dead letters", zap.Error(err), zap.String("payload", raw))
		return true, q.bury(ackCtx, raw, raw)
	}

	if err := handler(ctx, j.TransactionID); err != nil {
		return true, q.retry(ackCtx, raw, j, err)
	}

	if err := q.client.LRem(ackCtx, q.processingKey, 1, raw).Err(); err != nil {
		return true, fmt.Errorf("ack job %s: %w", j.TransactionID, err)
	}
	observability.IncrementQueueJob(q.opts.Name, "ok")
	return true, nil
}

func (q *RedisQueue) retry(ctx context.Context, raw string, j job, cause error) error {
	j.Attempt++
	j.LastError = cause.Error()
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	if j.Attempt >= q.opts.MaxAttempts {
		q.logger.Error("job exhausted its attempts",
			zap.Error(cause),
			zap.String("transaction_id", j.TransactionID.String()),
			zap.Int("attempts", j.Attempt),
		)
		return q.bury(ctx, raw, string(payload))
	}

	delay := retryDelay(q.opts.BackoffBase, q.opts.BackoffMax, j.Attempt)
	due := q.now().Add(delay).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, raw)
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: payload})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule retry for %s: %w", j.TransactionID, err)
	}

	q.logger.Warn("job failed, retry scheduled",
		zap.Error(cause),
		zap.String("transaction_id", j.TransactionID.String()),
		zap.Int("attempt", j.Attempt),
		zap.Duration("delay", delay),
	)
	observability.IncrementQueueJob(q.opts.Name, "retry")
	return nil
}

func (q *RedisQueue) bury(ctx context.Context, raw, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, raw)
	pipe.LPush(ctx, q.deadKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("move job to dead letters: %w", err)
	}
	observability.IncrementQueueJob(q.opts.Name, "dead")
	return nil
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(q.opts.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.heartbeat(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("queue heartbeat failed", zap.Error(err))
			}
			if n, err := q.reclaimOrphans(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("reclaim orphaned jobs failed", zap.Error(err))
			} else if n > 0 {
				q.logger.Warn("requeued jobs of an expired consumer", zap.Int("count", n))
			}
			if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("promote delayed jobs failed", zap.Error(err))
			}
			q.reportDepth(ctx)
		}
	}
}

// PromoteDue moves retries whose backoff has elapsed back to the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.readyKey},
		q.now().UnixMilli(), q.opts.PromoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Recover moves this consumer's unacknowledged jobs, and those of consumers
// whose heartbeat expired, back to the ready list.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved, err := q.drain(ctx, q.processingKey)
	if err != nil {
		return moved, err
	}
	orphaned, err := q.reclaimOrphans(ctx)
	return moved + orphaned, err
}

func (q *RedisQueue) reclaimOrphans(ctx context.Context) (int, error) {
	members, err := q.client.SMembers(ctx, q.consumersKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}
	moved := 0
	for _, id := range members {
		if id == q.opts.ConsumerID {
			continue
		}
		alive, err := q.client.Exists(ctx, heartbeatKeyFor(q.opts.Name, id)).Result()
		if err != nil {
			return moved, fmt.Errorf("check consumer %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}
		n, err := q.drain(ctx, processingKeyFor(q.opts.Name, id))
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.client.SRem(ctx, q.consumersKey, id).Err(); err != nil {
			return moved, fmt.Errorf("forget consumer %s: %w", id, err)
		}
	}
	return moved, nil
}

func (q *RedisQueue) drain(ctx context.Context, processingKey string) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, processingKey, q.readyKey).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover processing jobs: %w", err)
		}
		moved++
	}
}

// heartbeat refreshes this consumer's liveness key. The key is written before
// the consumer joins the set so no peer sees it registered but dead.
func (q *RedisQueue) heartbeat(ctx context.Context) error {
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.heartbeatKey, q.now().UTC().Format(time.RFC3339), q.opts.HeartbeatTTL)
	pipe.SAdd(ctx, q.consumersKey, q.opts.ConsumerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue heartbeat: %w", err)
	}
	return nil
}

func (q *RedisQueue) deregister(ctx context.Context) {
	n, err := q.drain(ctx, q.processingKey)
	if err != nil {
		// The heartbeat expires and a peer takes the list over.
		q.logger.Error("requeue unacknowledged jobs on shutdown failed", zap.Error(err))
		return
	}
	if n > 0 {
		q.logger.Warn("requeued unacknowledged jobs on shutdown", zap.Int("count", n))
	}
	pipe := q.client.TxPipeline()
	pipe.SRem(ctx, q.consumersKey, q.opts.ConsumerID)
	pipe.Del(ctx, q.heartbeatKey)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("queue deregister failed", zap.Error(err))
	}
}

// DeadLetters lists up to limit buried jobs, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.client.LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var j job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			out = append(out, DeadLetter{LastError: "malformed payload: " + raw})
			continue
		}
		out = append(out, DeadLetter{
			TransactionID: j.TransactionID,
			Attempts:      j.Attempt,
			EnqueuedAt:    j.EnqueuedAt,
			LastError:     j.LastError,
		})
	}
	return out, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	processing := pipe.LLen(ctx, q.processingKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	dead := pipe.LLen(ctx, q.deadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return Depth{
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

func (q *RedisQueue) reportDepth(ctx context.Context) {
	d, err := q.Depth(ctx)
	if err != nil {
		return
	}
	observability.SetQueueDepth(q.opts.Name, "ready", d.Ready)
	observability.SetQueueDepth(q.opts.Name, "processing", d.Processing)
	observability.SetQueueDepth(q.opts.Name, "delayed", d.Delayed)
	observability.SetQueueDepth(q.opts.Name, "dead", d.Dead)
}
