package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/presence"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/serroba/online-diagrams/internal/ws"
)

// ErrUnknownMessage is returned for a message type the server does not handle.
var ErrUnknownMessage = fmt.Errorf("unknown message type: %w", apperr.ErrValidation)

type joinReply struct {
	OK         bool              `json:"ok"`
	DocumentID string            `json:"documentId"`
	Members    []presence.Entry  `json:"members"`
	Changes    []storage.Change  `json:"changes"`
	Snapshot   *storage.Snapshot `json:"snapshot,omitempty"`
	HasMore    bool              `json:"hasMore"`
}

// Serve registers the connection and processes its messages until the
// connection fails or ctx is done. The connection leaves its room on return.
func (e *Engine) Serve(ctx context.Context, client *ws.Client) {
	e.hub.Register(client)

	defer e.Disconnect(context.WithoutCancel(ctx), client)

	for {
		msg, err := client.Receive()
		if err != nil {
			e.logger.Debug().Err(err).Str("conn", client.ID).Msg("connection closed")

			return
		}

		if ctx.Err() != nil {
			return
		}

		e.Handle(ctx, client, msg)
	}
}

// Handle processes one request and writes its reply.
func (e *Engine) Handle(ctx context.Context, client *ws.Client, msg ws.Message) {
	reply, err := e.dispatch(ctx, client, msg)
	if err != nil {
		if code := apperr.Code(err); code == apperr.CodeInternal || code == apperr.CodeUnavailable {
			e.logger.Error().Err(err).Str("conn", client.ID).Str("type", string(msg.Type)).Msg("request failed")
		}

		_ = client.ReplyError(msg.ID, apperr.Code(err), apperr.Message(err), apperr.Retryable(err))

		return
	}

	if err := client.Reply(msg.ID, reply); err != nil {
		e.logger.Debug().Err(err).Str("conn", client.ID).Msg("reply not delivered")
	}
}

func (e *Engine) dispatch(ctx context.Context, client *ws.Client, msg ws.Message) (any, error) {
	switch msg.Type {
	case ws.MessageTypeJoin:
		return e.handleJoin(ctx, client, msg.Payload)
	case ws.MessageTypeLeave:
		return ws.OKPayload{OK: true}, e.Leave(ctx, client)
	case ws.MessageTypeHeartbeat:
		if err := e.Heartbeat(ctx, client); err != nil {
			return nil, err
		}

		return ws.OKPayload{OK: true}, nil
	case ws.MessageTypePresence:
		return e.handlePresence(ctx, client, msg.Payload)
	}

	kind := diagram.Kind(msg.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}

	return e.handleOperation(ctx, client, kind, msg.Payload)
}

func (e *Engine) handleJoin(ctx context.Context, client *ws.Client, raw json.RawMessage) (any, error) {
	var payload ws.JoinPayload
	if err := decodePayload(raw, &payload); err != nil {
		return nil, err
	}

	if payload.DocumentID == "" {
		return nil, fmt.Errorf("documentId is required: %w", apperr.ErrValidation)
	}

	var since int64
	if payload.SinceSeq != nil {
		since = *payload.SinceSeq
	}

	result, err := e.Join(ctx, client, payload.DocumentID, since)
	if err != nil {
		return nil, err
	}

	reply := joinReply{
		OK:         true,
		DocumentID: result.DocumentID,
		Members:    result.Members,
		Changes:    result.Changes,
		Snapshot:   result.Snapshot,
		HasMore:    result.HasMore,
	}

	if reply.Members == nil {
		reply.Members = []presence.Entry{}
	}

	if reply.Changes == nil {
		reply.Changes = []storage.Change{}
	}

	return reply, nil
}

func (e *Engine) handlePresence(ctx context.Context, client *ws.Client, raw json.RawMessage) (any, error) {
	var state presence.State
	if err := decodePayload(raw, &state); err != nil {
		return nil, err
	}

	skipped, err := e.UpdatePresence(ctx, client, state)
	if err != nil {
		return nil, err
	}

	return ws.OKPayload{OK: true, Skipped: skipped}, nil
}

func (e *Engine) handleOperation(ctx context.Context, client *ws.Client, kind diagram.Kind, raw json.RawMessage) (any, error) {
	m, err := diagram.Decode(kind, raw)
	if err != nil {
		return nil, err
	}

	result, err := e.Apply(ctx, client.UserID, client.ID, client.DocID(), m)
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		return ws.AckPayload{Dedup: true}, nil
	}

	return ws.AckPayload{AckSeq: &result.AckSeq, ServerTime: result.ServerTime.UnixMilli()}, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed payload: %w", apperr.ErrValidation)
	}

	return nil
}
