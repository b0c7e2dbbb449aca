package diagram

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mutation is a client submitted operation together with its idempotency key.
type Mutation struct {
	ClientID string
	LocalSeq int64
	Op       Operation
}

type idempotencyKey struct {
	ClientID string `json:"clientId"`
	LocalSeq int64  `json:"localSeq"`
}

// Decode parses and validates a client request of the given kind. Every
// returned error wraps ErrInvalidOperation.
func Decode(kind Kind, raw []byte) (Mutation, error) {
	if len(raw) == 0 {
		return Mutation{}, fmt.Errorf("%w: empty payload", ErrInvalidOperation)
	}

	var key idempotencyKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return Mutation{}, fmt.Errorf("%w: %s", ErrInvalidOperation, err.Error())
	}

	op, err := DecodeOperation(kind, raw)
	if err != nil {
		return Mutation{}, err
	}

	m := Mutation{ClientID: key.ClientID, LocalSeq: key.LocalSeq, Op: op}
	if err := m.Validate(); err != nil {
		return Mutation{}, err
	}

	return m, nil
}

// Validate checks the idempotency key and the operation.
func (m Mutation) Validate() error {
	if m.ClientID == "" {
		return fmt.Errorf("%w: clientId is required", ErrInvalidOperation)
	}

	if m.LocalSeq < 1 {
		return fmt.Errorf("%w: localSeq must be at least 1", ErrInvalidOperation)
	}

	return Validate(m.Op)
}

// Payload returns the operation fields as stored in the change log.
func (m Mutation) Payload() (json.RawMessage, error) {
	return json.Marshal(m.Op)
}

// Event builds the peer notification for an applied operation: the
// operation fields plus sequence, author, idempotency key and timestamp.
func Event(seq int64, userID, clientID string, localSeq int64, payload json.RawMessage, at time.Time) (map[string]any, error) {
	fields := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}

	fields["seq"] = seq
	fields["userId"] = userID
	fields["clientId"] = clientID
	fields["localSeq"] = localSeq
	fields["timestamp"] = at.UnixMilli()

	return fields, nil
}
