package collab_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/collab"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/serroba/online-diagrams/internal/ws"
	"github.com/stretchr/testify/require"
)

// serve runs a connection for userID and returns its fake transport.
func (h *harness) serve(t *testing.T, userID string) *fakeConn {
	t.Helper()

	conn := newFakeConn()
	client := ws.NewClient("serve-"+userID, userID, userID+"@example.com", conn)
	done := make(chan struct{})

	go func() {
		defer close(done)

		h.engine.Serve(context.Background(), client)
	}()

	t.Cleanup(func() {
		_ = client.Close()
		<-done
	})

	return conn
}

func request(t *testing.T, conn *fakeConn, id string, msgType ws.MessageType, payload string) json.RawMessage {
	t.Helper()

	msg := ws.Message{Type: msgType, ID: id}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}

	conn.incoming <- msg

	var reply json.RawMessage

	require.Eventually(t, func() bool {
		for _, m := range conn.OfType(ws.MessageTypeReply) {
			if m.ID == id {
				reply = m.Payload

				return true
			}
		}

		return false
	}, time.Second, time.Millisecond)

	return reply
}

func TestServe_JoinEditAndDedup(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.serve(t, editor)

	joined := request(t, conn, "1", ws.MessageTypeJoin, `{"documentId":"doc1"}`)

	var join struct {
		OK         bool              `json:"ok"`
		DocumentID string            `json:"documentId"`
		Members    []json.RawMessage `json:"members"`
		Changes    []json.RawMessage `json:"changes"`
		HasMore    bool              `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(joined, &join))
	require.True(t, join.OK)
	require.Equal(t, testDocID, join.DocumentID)
	require.Len(t, join.Members, 1)
	require.NotNil(t, join.Changes)
	require.Empty(t, join.Changes)

	op := `{"clientId":"tab-1","localSeq":1,"id":"n1","x":5,"y":5,"width":10,"height":10}`

	ack := request(t, conn, "2", "node:create", op)

	var body struct {
		AckSeq     *int64 `json:"ackSeq"`
		ServerTime int64  `json:"serverTime"`
	}
	require.NoError(t, json.Unmarshal(ack, &body))
	require.NotNil(t, body.AckSeq)
	require.Equal(t, int64(1), *body.AckSeq)
	require.Positive(t, body.ServerTime)

	dup := request(t, conn, "3", "node:create", op)
	require.JSONEq(t, `{"ackSeq":null,"dedup":true}`, string(dup))

	require.JSONEq(t, `{"ok":true}`, string(request(t, conn, "4", ws.MessageTypeHeartbeat, "")))
	require.JSONEq(t, `{"ok":true}`, string(request(t, conn, "5", ws.MessageTypePresence, `{"selections":["n1"]}`)))
	require.JSONEq(t, `{"ok":true,"skipped":true}`, string(request(t, conn, "6", ws.MessageTypePresence, `{"selections":[]}`)))
	require.JSONEq(t, `{"ok":true}`, string(request(t, conn, "7", ws.MessageTypeLeave, "")))
}

func TestServe_ErrorReplies(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	viewerConn := h.serve(t, viewer)

	tests := []struct {
		name    string
		msgType ws.MessageType
		payload string
		code    string
	}{
		{"edit before join", "node:move", `{"clientId":"c","localSeq":1,"id":"n1"}`, apperr.CodeBadRequest},
		{"unknown type", "node:teleport", `{}`, apperr.CodeBadRequest},
		{"malformed join", ws.MessageTypeJoin, `[1,2]`, apperr.CodeBadRequest},
		{"join without document", ws.MessageTypeJoin, `{}`, apperr.CodeBadRequest},
		{"join unknown diagram", ws.MessageTypeJoin, `{"documentId":"missing"}`, apperr.CodeNotFound},
		{"invalid operation", "edge:create", `{"clientId":"c","localSeq":1,"id":"e1"}`, apperr.CodeBadRequest},
	}

	for i, tt := range tests {
		reply := request(t, viewerConn, tt.name+string(rune('a'+i)), tt.msgType, tt.payload)

		var body ws.ErrorPayload
		require.NoError(t, json.Unmarshal(reply, &body), tt.name)
		require.Equal(t, tt.code, body.Error, tt.name)
		require.NotEmpty(t, body.Message, tt.name)
	}

	request(t, viewerConn, "join", ws.MessageTypeJoin, `{"documentId":"doc1","sinceSeq":0}`)

	reply := request(t, viewerConn, "edit", "node:create", `{"clientId":"c","localSeq":1,"id":"n1"}`)

	var body ws.ErrorPayload
	require.NoError(t, json.Unmarshal(reply, &body))
	require.Equal(t, apperr.CodeForbidden, body.Error)
}

func TestServe_UnavailableReplyIsRetryableAndHidesDetails(t *testing.T) {
	t.Parallel()

	var log *flakyLog

	h := newHarness(t, func(cfg *collab.Config) {
		log = &flakyLog{MemoryStore: cfg.Changes.(*storage.MemoryStore), failing: true}
		cfg.Changes = log
	})
	conn := h.serve(t, editor)

	request(t, conn, "1", ws.MessageTypeJoin, `{"documentId":"doc1"}`)

	op := `{"clientId":"tab-1","localSeq":1,"id":"n1","x":0,"y":0,"width":10,"height":10}`
	reply := request(t, conn, "2", "node:create", op)

	var body ws.ErrorPayload
	require.NoError(t, json.Unmarshal(reply, &body))
	require.Equal(t, apperr.CodeUnavailable, body.Error)
	require.True(t, body.Retryable)
	require.NotContains(t, body.Message, errBackend.Error())

	log.setFailing(false)

	ack := request(t, conn, "3", "node:create", op)
	require.Contains(t, string(ack), `"ackSeq":`)
	require.NotContains(t, string(ack), `"dedup"`)
}

func TestServe_DisconnectLeavesRoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, ownerConn := h.connect(t, owner)

	conn := newFakeConn()
	client := ws.NewClient("gone", editor, "", conn)
	done := make(chan struct{})

	go func() {
		defer close(done)

		h.engine.Serve(context.Background(), client)
	}()

	request(t, conn, "1", ws.MessageTypeJoin, `{"documentId":"doc1"}`)
	require.Equal(t, 2, h.hub.ClientCount(testDocID))

	require.NoError(t, conn.Close())
	<-done

	require.Equal(t, 1, h.hub.ClientCount(testDocID))
	require.Len(t, ownerConn.WaitFor(t, ws.MessageTypeMemberLeft, 1), 1)
}
