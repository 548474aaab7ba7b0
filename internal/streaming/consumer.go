// Package streaming provides the Redis consumer-group stream-consumption
// loop shared by the Transcription Collector (and, for pub/sub, the Live
// Fan-Out Gateway). It adapts an XRead-based streaming manager's
// retry/shutdown discipline to consumer groups (XREADGROUP/XACK/XCLAIM),
// since a plain XRead loop never needs a pending-entries list.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ProcessFunc handles one stream message's payload. A nil error means the
// message should be acknowledged; a non-nil error leaves it pending for
// redelivery (or a later stale-claim). Callers that want "ack and drop" on
// a permanent failure should log and return nil.
type ProcessFunc func(ctx context.Context, id string, values map[string]interface{}) error

// ConsumerGroup reads one Redis stream through one consumer group,
// processing messages in batches and periodically reclaiming stale pending
// entries.
type ConsumerGroup struct {
	client        *redis.Client
	logger        *zap.Logger
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockTimeout  time.Duration
	pendingIdle   time.Duration
	process       ProcessFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConsumerGroup constructs a ConsumerGroup and ensures the group exists
// (creating the stream with MKSTREAM if needed).
func NewConsumerGroup(ctx context.Context, client *redis.Client, logger *zap.Logger, stream, group, consumer string, batchSize int64, blockTimeout, pendingIdle time.Duration, process ProcessFunc) (*ConsumerGroup, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("create consumer group %s/%s: %w", stream, group, err)
	}
	return &ConsumerGroup{
		client:       client,
		logger:       logger.With(zap.String("stream", stream), zap.String("group", group)),
		stream:       stream,
		group:        group,
		consumer:     consumer,
		batchSize:    batchSize,
		blockTimeout: blockTimeout,
		pendingIdle:  pendingIdle,
		process:      process,
		stopCh:       make(chan struct{}),
	}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Run starts the read loop and the stale-claimer sweep. It blocks until ctx
// is cancelled or Stop is called.
func (cg *ConsumerGroup) Run(ctx context.Context) {
	cg.wg.Add(2)
	go cg.readLoop(ctx)
	go cg.staleClaimLoop(ctx)
	cg.wg.Wait()
}

// Stop signals the loops to exit and waits for them to finish.
func (cg *ConsumerGroup) Stop() {
	close(cg.stopCh)
	cg.wg.Wait()
}

func (cg *ConsumerGroup) readLoop(ctx context.Context) {
	defer cg.wg.Done()
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-cg.stopCh:
			return
		default:
		}

		res, err := cg.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cg.group,
			Consumer: cg.consumer,
			Streams:  []string{cg.stream, ">"},
			Count:    cg.batchSize,
			Block:    cg.blockTimeout,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				backoff = 100 * time.Millisecond
				continue
			}
			if ctx.Err() != nil {
				return
			}
			cg.logger.Warn("xreadgroup failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-cg.stopCh:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, s := range res {
			var toAck []string
			for _, msg := range s.Messages {
				if err := cg.process(ctx, msg.ID, msg.Values); err != nil {
					cg.logger.Warn("message processing failed, leaving pending for redelivery",
						zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				toAck = append(toAck, msg.ID)
			}
			if len(toAck) > 0 {
				if err := cg.client.XAck(ctx, cg.stream, cg.group, toAck...).Err(); err != nil {
					cg.logger.Warn("xack failed", zap.Error(err))
				}
			}
		}
	}
}

// staleClaimLoop sweeps pending entries idle longer than pendingIdle and
// reclaims them to this consumer.
func (cg *ConsumerGroup) staleClaimLoop(ctx context.Context) {
	defer cg.wg.Done()
	ticker := time.NewTicker(cg.pendingIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cg.stopCh:
			return
		case <-ticker.C:
			cg.claimStale(ctx)
		}
	}
}

func (cg *ConsumerGroup) claimStale(ctx context.Context) {
	start := "-"
	for {
		pending, err := cg.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: cg.stream,
			Group:  cg.group,
			Start:  start,
			End:    "+",
			Count:  100,
			Idle:   cg.pendingIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			return
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		_, err = cg.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   cg.stream,
			Group:    cg.group,
			Consumer: cg.consumer,
			MinIdle:  cg.pendingIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			cg.logger.Warn("xclaim failed", zap.Error(err))
			return
		}

		if len(pending) < 100 {
			return
		}
		start = incrementID(pending[len(pending)-1].ID)
	}
}

func incrementID(id string) string {
	return "(" + id
}
