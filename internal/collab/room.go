package collab

import (
	"context"

	"github.com/serroba/online-diagrams/internal/presence"
	"github.com/serroba/online-diagrams/internal/ws"
)

// Member identifies a user announced to the room.
type Member struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// JoinResult is returned to a connection that entered a room.
type JoinResult struct {
	DocumentID string           `json:"documentId"`
	Members    []presence.Entry `json:"members"`
	Catchup
}

type memberJoined struct {
	User Member `json:"user"`
}

type memberLeft struct {
	UserID string `json:"userId"`
}

type presenceChanged struct {
	UserID     string         `json:"userId"`
	Presence   presence.State `json:"presence"`
	ServerTime int64          `json:"serverTime"`
}

type rosterChanged struct {
	Members []presence.Entry `json:"members"`
}

// Join moves the connection into the diagram room. The connection leaves
// its previous room, if any. since is the last seq the client has seen.
func (e *Engine) Join(ctx context.Context, client *ws.Client, docID string, since int64) (JoinResult, error) {
	if err := e.requireView(ctx, client.UserID, docID); err != nil {
		return JoinResult{}, err
	}

	if since < 0 {
		return JoinResult{}, ErrInvalidSince
	}

	// subscribe before reading the log so nothing committed in between is missed
	if previous := e.hub.Subscribe(client, docID); previous != "" {
		e.departed(ctx, client, previous)
	}

	result, err := e.enter(ctx, client, docID, since)
	if err != nil {
		e.hub.Unsubscribe(client, docID)
		e.departed(context.WithoutCancel(ctx), client, docID)

		return JoinResult{}, err
	}

	e.publish(context.WithoutCancel(ctx), docID, client.ID, string(ws.MessageTypeMemberJoined), memberJoined{
		User: Member{UserID: client.UserID, Email: client.Email},
	})

	e.logger.Debug().
		Str("doc", docID).
		Str("user", client.UserID).
		Int("changes", len(result.Changes)).
		Bool("snapshot", result.Snapshot != nil).
		Msg("joined")

	return result, nil
}

func (e *Engine) enter(ctx context.Context, client *ws.Client, docID string, since int64) (JoinResult, error) {
	if err := e.presence.Touch(ctx, docID, client.UserID, client.Email); err != nil {
		return JoinResult{}, err
	}

	batch, err := e.catchup(ctx, docID, since)
	if err != nil {
		return JoinResult{}, err
	}

	members, err := e.presence.List(ctx, docID)
	if err != nil {
		return JoinResult{}, err
	}

	return JoinResult{DocumentID: docID, Members: members, Catchup: batch}, nil
}

// Leave removes the connection from its room.
func (e *Engine) Leave(ctx context.Context, client *ws.Client) error {
	docID := client.DocID()
	if docID == "" {
		return nil
	}

	e.hub.Unsubscribe(client, docID)
	e.departed(ctx, client, docID)

	return nil
}

// Disconnect forgets a closed connection, leaving its room.
func (e *Engine) Disconnect(ctx context.Context, client *ws.Client) {
	if docID := e.hub.Unregister(client); docID != "" {
		e.departed(ctx, client, docID)
	}
}

// departed clears presence and notifies peers once the user has no other
// local connection in the room.
func (e *Engine) departed(ctx context.Context, client *ws.Client, docID string) {
	if e.hub.HasUser(docID, client.UserID) {
		return
	}

	if err := e.presence.Remove(ctx, docID, client.UserID); err != nil {
		e.logger.Warn().Err(err).Str("doc", docID).Str("user", client.UserID).Msg("failed to remove presence")
	}

	e.limiter.Forget(docID, client.UserID)

	e.publish(ctx, docID, client.ID, string(ws.MessageTypeMemberLeft), memberLeft{UserID: client.UserID})
}

// UpdatePresence stores the connection's cursor and selections and relays
// them to peers. Updates faster than the limiter allows are dropped and
// reported as skipped.
func (e *Engine) UpdatePresence(ctx context.Context, client *ws.Client, state presence.State) (bool, error) {
	docID := client.DocID()
	if docID == "" {
		return false, ErrNotInRoom
	}

	if !e.limiter.Allow(docID, client.UserID) {
		return true, nil
	}

	err := e.presence.Set(ctx, docID, presence.Entry{
		UserID: client.UserID,
		Email:  client.Email,
		State:  state,
	})
	if err != nil {
		return false, err
	}

	e.publish(context.WithoutCancel(ctx), docID, client.ID, string(ws.MessageTypePresenceUpdate), presenceChanged{
		UserID:     client.UserID,
		Presence:   state,
		ServerTime: e.now().UnixMilli(),
	})

	return false, nil
}

// Heartbeat refreshes the connection's presence TTL.
func (e *Engine) Heartbeat(ctx context.Context, client *ws.Client) error {
	docID := client.DocID()
	if docID == "" {
		return ErrNotInRoom
	}

	return e.presence.Touch(ctx, docID, client.UserID, client.Email)
}

// sweepPresence expires stale entries in every room with a local
// connection and broadcasts the new roster of rooms that changed.
func (e *Engine) sweepPresence(ctx context.Context) {
	for _, docID := range e.hub.Rooms() {
		removed, err := e.presence.Sweep(ctx, docID)
		if err != nil {
			e.logger.Warn().Err(err).Str("doc", docID).Msg("presence sweep failed")

			continue
		}

		if len(removed) == 0 {
			continue
		}

		members, err := e.presence.List(ctx, docID)
		if err != nil {
			e.logger.Warn().Err(err).Str("doc", docID).Msg("cannot list roster")

			continue
		}

		for _, userID := range removed {
			e.limiter.Forget(docID, userID)
		}

		e.logger.Debug().Str("doc", docID).Strs("expired", removed).Msg("presence expired")
		e.publish(ctx, docID, "", string(ws.MessageTypeRoster), rosterChanged{Members: members})
	}

	e.limiter.Sweep(2 * e.presenceTTL)
}
