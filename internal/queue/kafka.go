package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the broker settings of a KafkaQueue.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
}

// KafkaQueue publishes jobs to one topic per job type and consumes them
// through a consumer group. Offsets are committed only after the handler
// succeeds or the job has been republished for retry, and never past an
// earlier offset that is still running.
type KafkaQueue struct {
	cfg    KafkaConfig
	opts   Options
	logger *log.Logger
	writer *kafka.Writer

	mu       sync.Mutex
	handlers map[string]Handler
	readers  []*kafka.Reader
	closed   bool

	// cancel stops fetching; cancelWork interrupts running handlers.
	cancel     context.CancelFunc
	cancelWork context.CancelFunc

	wg sync.WaitGroup
}

// NewKafkaQueue validates cfg and builds the shared writer.
func NewKafkaQueue(cfg KafkaConfig, opts Options, logger *log.Logger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("queue: at least one kafka broker is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("queue: kafka group ID is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	return &KafkaQueue{
		cfg:    cfg,
		opts:   opts.normalize(),
		logger: logger.WithPrefix("kafka"),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		handlers: make(map[string]Handler),
	}, nil
}

// TopicFor returns the topic carrying jobs of jobType.
func TopicFor(prefix, jobType string) string {
	if prefix == "" {
		return jobType
	}
	return strings.TrimSuffix(prefix, ".") + "." + jobType
}

// Enqueue publishes the job keyed by its ID.
func (q *KafkaQueue) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	job, err := newJob(jobType, payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	if err := q.publish(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *KafkaQueue) publish(ctx context.Context, job *Job) error {
	msg, err := encodeMessage(q.cfg.TopicPrefix, job)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queue: failed to publish %s: %w", job.Type, err)
	}
	return nil
}

// Subscribe registers h for jobType.
func (q *KafkaQueue) Subscribe(jobType string, h Handler) error {
	if jobType == "" || h == nil {
		return fmt.Errorf("queue: job type and handler are required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.handlers[jobType] = h
	return nil
}

// Start opens one consumer-group reader per subscribed job type. Each
// reader has a single fetch loop feeding Options.Workers handlers.
// Cancelling ctx does not interrupt handlers; Close does once its deadline
// passes.
func (q *KafkaQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.cancel != nil {
		return nil
	}

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel, q.cancelWork = cancelFetch, cancelWork

	for jobType, h := range q.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.cfg.Brokers,
			GroupID:  q.cfg.GroupID,
			Topic:    TopicFor(q.cfg.TopicPrefix, jobType),
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		q.readers = append(q.readers, reader)

		q.wg.Add(1)
		go q.consume(fetchCtx, workCtx, reader, h, q.logger.With("type", jobType))
	}

	q.logger.Info("started consumers", "topics", len(q.readers), "workers", q.opts.Workers)
	return nil
}

// consume fetches messages in order and hands them to the workers. An
// offset is committed only once it and every earlier fetched offset of its
// partition have finished, so a slow job never has its offset skipped.
func (q *KafkaQueue) consume(fetchCtx, workCtx context.Context, reader *kafka.Reader, h Handler, logger *log.Logger) {
	defer q.wg.Done()

	var (
		commitMu sync.Mutex
		tracker  = newOffsetTracker()
		msgs     = make(chan kafka.Message)
		workers  sync.WaitGroup
	)

	for i := 0; i < q.opts.Workers; i++ {
		workers.Add(1)
		go func(logger *log.Logger) {
			defer workers.Done()
			for msg := range msgs {
				if !q.handle(workCtx, h, msg, logger) {
					continue
				}
				commitMu.Lock()
				if offset, ok := tracker.finish(msg.Partition, msg.Offset); ok {
					q.commit(workCtx, reader, kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: offset}, logger)
				}
				commitMu.Unlock()
			}
		}(logger.With("worker", i))
	}
	defer func() {
		close(msgs)
		workers.Wait()
	}()

	for {
		msg, err := reader.FetchMessage(fetchCtx)
		if err != nil {
			if fetchCtx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Error("fetch failed", "err", err)
			if sleepCtx(fetchCtx, time.Second) != nil {
				return
			}
			continue
		}

		commitMu.Lock()
		tracker.fetched(msg.Partition, msg.Offset)
		commitMu.Unlock()

		select {
		case msgs <- msg:
		case <-fetchCtx.Done():
			return
		}
	}
}

// handle runs one message through h and reports whether its offset may be
// committed. Failed jobs are republished with the next attempt number;
// when that fails, or the work context ends, the offset stays uncommitted
// so the group redelivers it.
func (q *KafkaQueue) handle(ctx context.Context, h Handler, msg kafka.Message, logger *log.Logger) bool {
	job, err := decodeMessage(msg)
	if err != nil {
		logger.Error("dropping undecodable message", "offset", msg.Offset, "err", err)
		return true
	}

	if job.Attempt > 0 {
		if sleepCtx(ctx, q.opts.Backoff(job.Attempt)) != nil {
			return false
		}
	}

	err = h(ctx, job)
	if err == nil {
		return true
	}

	logger.Error("job failed", "job", job.ID, "attempt", job.Attempt, "err", err)
	if ctx.Err() != nil {
		return false
	}
	if job.Attempt >= q.opts.MaxRetries {
		logger.Warn("max retries exceeded, giving up", "job", job.ID, "max", q.opts.MaxRetries)
		if q.opts.OnDrop != nil {
			q.opts.OnDrop(job, ErrRetriesExhausted)
		}
		return true
	}

	job.Attempt++
	if err := q.publish(ctx, job); err != nil {
		logger.Error("failed to republish job", "job", job.ID, "err", err)
		return false
	}
	return true
}

func (q *KafkaQueue) commit(ctx context.Context, reader *kafka.Reader, msg kafka.Message, logger *log.Logger) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Warn("commit failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
	}
}

// offsetTracker follows fetched offsets per partition. It is not safe for
// concurrent use.
type offsetTracker struct {
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64 // fetched and not yet committable, in fetch order
	done    map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) fetched(partition int, offset int64) {
	p := t.partitions[partition]
	if p == nil {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[partition] = p
	}
	p.pending = append(p.pending, offset)
}

// finish marks offset handled and returns the highest offset whose
// predecessors in the partition have all finished. ok is false when the
// committable prefix did not grow.
func (t *offsetTracker) finish(partition int, offset int64) (int64, bool) {
	p := t.partitions[partition]
	if p == nil {
		return 0, false
	}
	p.done[offset] = true

	var (
		last int64
		ok   bool
	)
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		last, ok = p.pending[0], true
		delete(p.done, last)
		p.pending = p.pending[1:]
	}
	return last, ok
}

// Close stops consumers, waits for them or ctx, then closes readers and the
// writer.
func (q *KafkaQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel, cancelWork := q.cancel, q.cancelWork
	readers := q.readers
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		defer cancelWork()
	}

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	var errs []error
	select {
	case <-finished:
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted, cancelling in-flight jobs")
		if cancelWork != nil {
			cancelWork()
		}
		errs = append(errs, ctx.Err())
	}

	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader %s: %w", r.Config().Topic, err))
		}
	}
	if err := q.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}

func encodeMessage(prefix string, job *Job) (kafka.Message, error) {
	value, err := json.Marshal(job)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("queue: failed to marshal job: %w", err)
	}
	return kafka.Message{
		Topic: TopicFor(prefix, job.Type),
		Key:   []byte(job.ID),
		Value: value,
	}, nil
}

func decodeMessage(msg kafka.Message) (*Job, error) {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, fmt.Errorf("queue: invalid job envelope: %w", err)
	}
	if job.ID == "" || job.Type == "" {
		return nil, fmt.Errorf("queue: job envelope missing id or type")
	}
	return &job, nil
}

var _ Queue = (*KafkaQueue)(nil)
