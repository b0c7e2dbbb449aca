package ws

import (
	"errors"
	"sync"
)

// SendQueueSize bounds the peer events buffered for one connection.
const SendQueueSize = 256

// ErrSlowConsumer is returned by Enqueue when the connection's queue is full.
// The connection is closed; the client catches up with sinceSeq on rejoin.
var ErrSlowConsumer = errors.New("outbound queue full")

// ErrClientClosed is returned by Enqueue after Close.
var ErrClientClosed = errors.New("client closed")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client represents one authenticated connection. A client is in at most
// one diagram room at a time.
type Client struct {
	ID     string
	UserID string
	Email  string
	conn   Conn

	writeMu sync.Mutex

	outbound  chan Message
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	mu    sync.Mutex
	docID string
}

// NewClient creates a new client wrapper.
func NewClient(id, userID, email string, conn Conn) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Email:    email,
		conn:     conn,
		outbound: make(chan Message, SendQueueSize),
		done:     make(chan struct{}),
	}
}

// Send writes a message to the connection on the calling goroutine. Writes
// are serialized with the queued ones.
func (c *Client) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(msg)
}

// Enqueue hands a peer event to the connection's writer without blocking.
// Queued events are written in order. A full queue closes the connection.
func (c *Client) Enqueue(msg Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.startOnce.Do(func() { go c.writeLoop() })

	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		// closing may wait on the stuck socket
		go func() { _ = c.Close() }()

		return ErrSlowConsumer
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			if err := c.Send(msg); err != nil {
				_ = c.Close()

				return
			}
		}
	}
}

// Reply answers the request identified by id.
func (c *Client) Reply(id string, payload any) error {
	msg, err := NewMessage(MessageTypeReply, id, payload)
	if err != nil {
		return err
	}

	return c.Send(msg)
}

// ReplyError answers the request identified by id with an error body.
func (c *Client) ReplyError(id, code, message string, retryable bool) error {
	return c.Reply(id, ErrorPayload{Error: code, Message: message, Retryable: retryable})
}

// Receive reads the next message from the connection.
func (c *Client) Receive() (Message, error) {
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// Close stops the writer and closes the connection. It is safe to call more
// than once.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})

	return err
}

// DocID returns the room the client is in.
func (c *Client) DocID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docID
}

// SetDocID records the room the client is in.
func (c *Client) SetDocID(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docID = docID
}
