package collab_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/broadcast"
	"github.com/serroba/online-diagrams/internal/collab"
	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/ordering"
	"github.com/serroba/online-diagrams/internal/presence"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/serroba/online-diagrams/internal/ws"
	"github.com/stretchr/testify/require"
)

const (
	testDocID = "doc1"
	owner     = "olivia"
	editor    = "eddie"
	viewer    = "vera"
)

// fakeConn is a test double for ws.Conn. ReadJSON fails once closed.
type fakeConn struct {
	mu       sync.Mutex
	messages []ws.Message
	incoming chan ws.Message
	done     chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan ws.Message, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)

	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case msg := <-c.incoming:
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		return json.Unmarshal(data, v)
	case <-c.done:
		return io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })

	return nil
}

func (c *fakeConn) Messages() []ws.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ws.Message, len(c.messages))
	copy(out, c.messages)

	return out
}

// OfType returns the received messages of one type.
func (c *fakeConn) OfType(msgType ws.MessageType) []ws.Message {
	var out []ws.Message

	for _, m := range c.Messages() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}

	return out
}

// WaitFor waits until at least n messages of msgType arrived and returns
// them. Peer events are written by each connection's own writer.
func (c *fakeConn) WaitFor(t *testing.T, msgType ws.MessageType, n int) []ws.Message {
	t.Helper()

	require.Eventually(t, func() bool { return len(c.OfType(msgType)) >= n }, 2*time.Second, time.Millisecond,
		"waiting for %d %s messages", n, msgType)

	return c.OfType(msgType)
}

type harness struct {
	engine  *collab.Engine
	hub     *ws.Hub
	bus     *broadcast.MemoryBus
	store   *storage.MemoryStore
	members *acl.MemoryStore
	seq     *ordering.MemorySequencer
	feed    *recordingFeed
}

func newHarness(t *testing.T, configure ...func(*collab.Config)) *harness {
	t.Helper()

	h := &harness{
		hub:     ws.NewHub(),
		bus:     broadcast.NewMemoryBus(),
		store:   storage.NewMemoryStore(),
		members: acl.NewMemoryStore(),
		seq:     ordering.NewMemorySequencer(zerolog.Nop()),
		feed:    &recordingFeed{},
	}

	ctx := context.Background()

	h.members.SetProjectOwner(testDocID, owner)
	require.NoError(t, h.members.Grant(ctx, testDocID, editor, acl.Editor))
	require.NoError(t, h.members.Grant(ctx, testDocID, viewer, acl.Viewer))

	cfg := collab.Config{
		Sequencer:       h.seq,
		Ledger:          ordering.NewMemoryLedger(zerolog.Nop(), time.Hour),
		Locker:          ordering.NewMemoryLocker(),
		Changes:         h.store,
		Snapshots:       h.store,
		Access:          acl.NewOracle(h.members, h.members),
		Presence:        presence.NewMemoryDirectory(time.Minute),
		Limiter:         presence.NewLimiter(time.Hour),
		Bus:             h.bus,
		Hub:             h.hub,
		Feed:            h.feed,
		Logger:          zerolog.Nop(),
		SnapshotBackoff: time.Millisecond,
	}

	for _, fn := range configure {
		fn(&cfg)
	}

	h.engine = collab.New(cfg)
	startEngine(t, h.engine)

	require.Eventually(t, func() bool { return h.bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	return h
}

func startEngine(t *testing.T, engine *collab.Engine) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = engine.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// connect registers a connection for userID and joins the test diagram.
func (h *harness) connect(t *testing.T, userID string) (*ws.Client, *fakeConn) {
	t.Helper()

	conn := newFakeConn()
	client := ws.NewClient(userID+"-conn", userID, userID+"@example.com", conn)
	h.hub.Register(client)

	_, err := h.engine.Join(context.Background(), client, testDocID, 0)
	require.NoError(t, err)

	return client, conn
}

func createNode(t *testing.T, clientID string, localSeq int64, nodeID string) diagram.Mutation {
	t.Helper()

	raw := fmt.Sprintf(`{"clientId":%q,"localSeq":%d,"id":%q,"x":0,"y":0,"width":120,"height":60}`, clientID, localSeq, nodeID)

	m, err := diagram.Decode(diagram.NodeCreate, []byte(raw))
	require.NoError(t, err)

	return m
}

func moveNode(t *testing.T, clientID string, localSeq int64, nodeID string, x, y int) diagram.Mutation {
	t.Helper()

	raw := fmt.Sprintf(`{"clientId":%q,"localSeq":%d,"id":%q,"x":%d,"y":%d}`, clientID, localSeq, nodeID, x, y)

	m, err := diagram.Decode(diagram.NodeMove, []byte(raw))
	require.NoError(t, err)

	return m
}

type recordingFeed struct {
	mu      sync.Mutex
	changes []storage.Change
}

func (f *recordingFeed) Enqueue(change storage.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.changes = append(f.changes, change)
}

func (f *recordingFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.changes)
}

var errBackend = errors.New("backend down")

// flakyLog fails Append while failing is set.
type flakyLog struct {
	*storage.MemoryStore

	mu      sync.Mutex
	failing bool
}

func (f *flakyLog) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failing = v
}

func (f *flakyLog) Append(ctx context.Context, change storage.Change) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()

	if failing {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, errBackend)
	}

	return f.MemoryStore.Append(ctx, change)
}

// flakySnapshots fails the first failures saves.
type flakySnapshots struct {
	*storage.MemoryStore

	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakySnapshots) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	if fail {
		return errBackend
	}

	return f.MemoryStore.SaveSnapshot(ctx, snapshot)
}

func (f *flakySnapshots) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}

// leaseLocker is an in-process lock that reports a lease like the Redis one.
type leaseLocker struct {
	*ordering.MemoryLocker

	lease time.Duration
}

func (l leaseLocker) Lease() time.Duration { return l.lease }

// stallingLog blocks Append until its context ends and records the deadline
// it was given.
type stallingLog struct {
	*storage.MemoryStore

	mu       sync.Mutex
	deadline time.Time
	stalled  bool
}

func (s *stallingLog) Append(ctx context.Context, change storage.Change) error {
	s.mu.Lock()
	s.deadline, _ = ctx.Deadline()
	stalled := s.stalled
	s.mu.Unlock()

	if !stalled {
		return s.MemoryStore.Append(ctx, change)
	}

	<-ctx.Done()

	return ctx.Err()
}

func (s *stallingLog) setStalled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stalled = v
}

func (s *stallingLog) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deadline
}
