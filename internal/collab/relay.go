package collab

import (
	"context"
	"time"

	"github.com/serroba/online-diagrams/internal/broadcast"
	"github.com/serroba/online-diagrams/internal/ws"
	"golang.org/x/sync/errgroup"
)

// Run relays room events from the bus to local connections and sweeps
// expired presence until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.bus.Run(ctx, e.deliver)
	})

	g.Go(func() error {
		e.runSweeper(ctx)

		return nil
	})

	return g.Wait()
}

// deliver forwards one bus envelope to the local members of its room.
func (e *Engine) deliver(env broadcast.Envelope) {
	e.hub.Broadcast(env.DocumentID, ws.Message{
		Type:    ws.MessageType(env.Type),
		Payload: env.Payload,
	}, env.Exclude)
}

func (e *Engine) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepPresence(ctx)
		}
	}
}
