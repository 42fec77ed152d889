package feed

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Subprotocol is the websocket subprotocol spectators must request.
const Subprotocol = "feed"

const writeTimeout = 5 * time.Second

// Stream writes gameID's events to c until the peer goes away or ctx ends.
// Spectators only listen; anything they send closes the stream.
func (h *Hub) Stream(ctx context.Context, c *websocket.Conn, gameID uuid.UUID) error {
	sub := h.Subscribe(gameID)
	defer sub.Close()

	ctx = c.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, ev)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}
