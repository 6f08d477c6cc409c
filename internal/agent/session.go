package agent

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/protocol"
)

// Conn is a worker's view of its link to the coordinator.
type Conn interface {
	ReadConv(ctx context.Context) (protocol.ConvMsg, error)
	WriteConv(msg protocol.ConvMsg) error
}

// Serve answers conversations until ctx is done or the connection fails.
// Conversations are handled one at a time in arrival order.
func Serve(ctx context.Context, conn Conn, r *Responder, logger zerolog.Logger) error {
	for {
		msg, err := conn.ReadConv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := r.Handle(ctx, msg, conn.WriteConv); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Warn().Str("conv", msg.ConversationID).Err(err).Msg("conversation aborted")
			return err
		}
	}
}
