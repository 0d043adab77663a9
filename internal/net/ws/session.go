package ws

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"

	"stutterguard/server"
	"stutterguard/server/internal/net/intake"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/logging"
	"stutterguard/server/logging/network"
)

// Serve runs the session of one player connection until it closes. Frames
// are admitted by the connection's gate and dispatched one at a time in
// arrival order.
func (h *Handler) Serve(ctx context.Context, playerID string, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	sub, join, ok := h.hub.Subscribe(playerID, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	data, err := proto.Encode(join)
	if err != nil {
		h.logger.Printf("failed to marshal join frame for %s: %v", playerID, err)
		h.hub.Disconnect(playerID)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.hub.Disconnect(playerID)
		return
	}

	actor := logging.PlayerRef(playerID)
	gate := intake.NewGate(h.limits)
	limited := false
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID)
			return
		}

		pkt, reason, err := gate.Stage(payload)
		if reason == intake.RejectRateLimited {
			if !limited {
				limited = true
				h.logger.Printf("rate limiting %s", playerID)
				limits := gate.Limits()
				network.RateLimited(ctx, h.publisher, h.hub.Tick(), actor, network.RateLimitedPayload{
					Limit: limits.Rate,
					Burst: limits.Burst,
				}, nil)
			}
			continue
		}
		limited = false
		if err != nil {
			h.logger.Printf("discarding %s frame from %s: %v", reason, playerID, err)
			network.FrameRejected(ctx, h.publisher, h.hub.Tick(), actor, network.FrameRejectedPayload{
				Reason: reason,
			}, nil)
			continue
		}

		if err := h.hub.HandleClientPacket(ctx, playerID, pkt); err != nil {
			if errors.Is(err, server.ErrUnknownPlayer) {
				conn.Close()
				return
			}
			h.logger.Printf("%s from %s failed: %v", pkt.Type(), playerID, err)
			network.FrameRejected(ctx, h.publisher, h.hub.Tick(), actor, network.FrameRejectedPayload{
				Type:   pkt.Type(),
				Reason: err.Error(),
			}, nil)
		}
	}
}
