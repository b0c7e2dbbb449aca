// Package changefeed publishes applied diagram changes to Kafka for
// downstream consumers such as search indexing and exports.
//
// Publishing is asynchronous and lossy under pressure: the live editing
// path only enqueues, a bounded queue absorbs short broker stalls, and
// events are dropped once the queue is full or retries are exhausted.
// The change log remains the source of truth.
package changefeed

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Options tunes a Dispatcher. Zero values take the defaults.
type Options struct {
	QueueSize   int
	Workers     int
	MaxRetry    int // negative disables retries
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Defaults.
const (
	DefaultQueueSize   = 1024
	DefaultWorkers     = 2
	DefaultMaxRetry    = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultMaxBackoff  = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}

	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}

	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	} else if o.MaxRetry == 0 {
		o.MaxRetry = DefaultMaxRetry
	}

	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}

	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = DefaultMaxBackoff
	}

	return o
}

// Event is the record written to the topic, keyed by document id so all
// changes of one diagram land on the same partition in seq order.
type Event struct {
	DocumentID string          `json:"documentId"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	AuthorID   string          `json:"userId"`
	ClientID   string          `json:"clientId"`
	LocalSeq   int64           `json:"localSeq"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewEvent converts an applied change.
func NewEvent(change storage.Change) Event {
	return Event{
		DocumentID: change.DocumentID,
		Seq:        change.Seq,
		Type:       string(change.Type),
		Payload:    change.Payload,
		AuthorID:   change.AuthorID,
		ClientID:   change.ClientID,
		LocalSeq:   change.LocalSeq,
		CreatedAt:  change.CreatedAt,
	}
}

// Dispatcher drains a bounded queue of changes into a Kafka topic.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
	opts     Options

	queue   chan storage.Change
	sent    atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher. Call Run to start the workers.
func NewDispatcher(producer sarama.SyncProducer, topic string, logger zerolog.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()

	return &Dispatcher{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "changefeed").Str("topic", topic).Logger(),
		opts:     opts,
		queue:    make(chan storage.Change, opts.QueueSize),
	}
}

// Enqueue queues a change without blocking. A full queue drops it.
func (d *Dispatcher) Enqueue(change storage.Change) {
	select {
	case d.queue <- change:
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("documentId", change.DocumentID).
			Int64("seq", change.Seq).
			Msg("change feed queue full, dropping event")
	}
}

// Sent returns the number of events acknowledged by the broker.
func (d *Dispatcher) Sent() int64 { return d.sent.Load() }

// Dropped returns the number of events given up on.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run publishes queued changes until ctx is cancelled. Events still queued
// at that point get a single delivery attempt.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range d.opts.Workers {
		g.Go(func() error {
			d.work(ctx, i)

			return nil
		})
	}

	err := g.Wait()
	d.drain()

	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-d.queue:
			d.sendWithRetry(ctx, worker, change)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case change := <-d.queue:
			if err := d.sendOnce(change); err != nil {
				d.dropped.Add(1)
				d.logger.Warn().Err(err).Str("documentId", change.DocumentID).Int64("seq", change.Seq).
					Msg("change feed shutting down, dropping event")
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, worker int, change storage.Change) {
	for attempt := 0; ; attempt++ {
		err := d.sendOnce(change)
		if err == nil {
			return
		}

		if attempt == d.opts.MaxRetry {
			d.dropped.Add(1)
			d.logger.Error().Err(err).
				Int("worker", worker).
				Str("documentId", change.DocumentID).
				Int64("seq", change.Seq).
				Msg("change feed send failed, dropping event")

			return
		}

		backoff := min(d.opts.BaseBackoff*time.Duration(1<<attempt), d.opts.MaxBackoff)

		select {
		case <-ctx.Done():
			d.dropped.Add(1)

			return
		case <-time.After(backoff):
		}
	}
}

func (d *Dispatcher) sendOnce(change storage.Change) error {
	value, err := json.Marshal(NewEvent(change))
	if err != nil {
		return err
	}

	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(change.DocumentID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return err
	}

	d.sent.Add(1)

	return nil
}

// NewSyncProducer connects a producer configured for the feed.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	return sarama.NewSyncProducer(brokers, cfg)
}
