package changefeed_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/changefeed"
	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker not available")

func change(seq int64) storage.Change {
	return storage.Change{
		DocumentID: "doc1",
		Seq:        seq,
		Type:       diagram.NodeMove,
		Payload:    json.RawMessage(`{"id":"n1","x":1,"y":2}`),
		AuthorID:   "u1",
		ClientID:   "tab-1",
		LocalSeq:   seq,
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func newProducer(t *testing.T) *mocks.SyncProducer {
	t.Helper()

	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true

	producer := mocks.NewSyncProducer(t, cfg)
	t.Cleanup(func() { require.NoError(t, producer.Close()) })

	return producer
}

// run starts d and returns a function that stops it and waits.
func run(t *testing.T, d *changefeed.Dispatcher) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- d.Run(ctx) }()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func fastOptions() changefeed.Options {
	return changefeed.Options{Workers: 1, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDispatcher_PublishesEvent(t *testing.T) {
	t.Parallel()

	producer := newProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt changefeed.Event
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}

		if evt.DocumentID != "doc1" || evt.Seq != 7 || evt.Type != "node:move" || evt.ClientID != "tab-1" {
			return fmt.Errorf("unexpected event %+v", evt)
		}

		return nil
	})

	d := changefeed.NewDispatcher(producer, "diagram-changes", zerolog.Nop(), fastOptions())
	stop := run(t, d)

	d.Enqueue(change(7))

	require.Eventually(t, func() bool { return d.Sent() == 1 }, time.Second, time.Millisecond)
	stop()
	require.Zero(t, d.Dropped())
}

func TestDispatcher_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		maxRetry int
		failures int
		sent     int64
		dropped  int64
	}{
		{name: "recovers after transient failures", maxRetry: 3, failures: 2, sent: 1},
		{name: "gives up after max retries", maxRetry: 1, failures: 2, dropped: 1},
		{name: "retries disabled", maxRetry: -1, failures: 1, dropped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			producer := newProducer(t)
			for range tt.failures {
				producer.ExpectSendMessageAndFail(errBroker)
			}

			if tt.sent > 0 {
				producer.ExpectSendMessageAndSucceed()
			}

			opts := fastOptions()
			opts.MaxRetry = tt.maxRetry

			d := changefeed.NewDispatcher(producer, "diagram-changes", zerolog.Nop(), opts)
			stop := run(t, d)

			d.Enqueue(change(1))

			require.Eventually(t, func() bool {
				return d.Sent()+d.Dropped() == 1
			}, time.Second, time.Millisecond)
			stop()

			require.Equal(t, tt.sent, d.Sent())
			require.Equal(t, tt.dropped, d.Dropped())
		})
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	t.Parallel()

	producer := newProducer(t)
	producer.ExpectSendMessageAndSucceed()

	opts := fastOptions()
	opts.QueueSize = 1

	d := changefeed.NewDispatcher(producer, "diagram-changes", zerolog.Nop(), opts)

	d.Enqueue(change(1))
	d.Enqueue(change(2))
	require.Equal(t, int64(1), d.Dropped())

	// queued events are flushed even when the dispatcher stops right away
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	require.Equal(t, int64(1), d.Sent())
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := changefeed.NewEvent(change(3))

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"documentId":"doc1","seq":3,"type":"node:move","payload":{"id":"n1","x":1,"y":2},
		"userId":"u1","clientId":"tab-1","localSeq":3,"createdAt":"2023-11-14T22:13:20Z"
	}`, string(data))
}
