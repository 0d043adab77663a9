package server

import (
	"context"
	"fmt"
	"time"

	"stutterguard/server/internal/dispatch"
	"stutterguard/server/internal/metadata"
	"stutterguard/server/internal/net/proto"
)

// registerListeners binds the client packet kinds to the player mutations
// they drive. The listeners know nothing about echo filtering; the registry
// opens the scope around the input kinds.
func (h *Hub) registerListeners() {
	h.registry.SetListener(dispatch.KindInput, h.handleInput)
	h.registry.SetListener(dispatch.KindEntityAction, h.handleEntityAction)
	h.registry.SetListener(dispatch.KindUseItem, h.handleUseItem)
	h.registry.SetListener(dispatch.KindPlayerAction, h.handlePlayerAction)
	h.registry.SetListener(dispatch.KindHeartbeat, h.handleHeartbeat)
	h.registry.SetListener(dispatch.KindConsole, h.handleConsole)
}

func listenerArgs[T proto.ClientPacket](conn dispatch.Conn, pkt proto.ClientPacket) (*Player, T, error) {
	var zero T
	player, ok := conn.(*Player)
	if !ok || player == nil {
		return nil, zero, fmt.Errorf("%w %q", ErrUnknownPlayer, conn.ID())
	}
	typed, ok := pkt.(T)
	if !ok {
		return nil, zero, fmt.Errorf("unexpected %s packet %T", pkt.Type(), pkt)
	}
	return player, typed, nil
}

func (h *Hub) handleInput(_ context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, input, err := listenerArgs[*proto.ClientInput](conn, pkt)
	if err != nil {
		return err
	}
	if input.Keys.Shift != player.sneakHeld {
		player.sneakHeld = input.Keys.Shift
		player.SetSneaking(input.Keys.Shift)
	}
	return nil
}

func (h *Hub) handleEntityAction(_ context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, action, err := listenerArgs[*proto.ClientEntityAction](conn, pkt)
	if err != nil {
		return err
	}
	switch action.Action {
	case proto.ActionStartSprinting:
		player.SetSprinting(true)
	case proto.ActionStopSprinting:
		player.SetSprinting(false)
	case proto.ActionStartFlyingWithElytra:
		if !player.hasFlag(metadata.FlagFlyingWithElytra) {
			player.SetFlyingWithElytra(true)
		}
	default:
		return fmt.Errorf("%w: entity action %q", proto.ErrMalformed, action.Action)
	}
	return nil
}

func (h *Hub) handleUseItem(_ context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, use, err := listenerArgs[*proto.ClientUseItem](conn, pkt)
	if err != nil {
		return err
	}
	player.RefreshActiveHand(true, use.Hand == proto.HandOff, false)
	player.itemUseTicks = 0
	return nil
}

func (h *Hub) handlePlayerAction(_ context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, action, err := listenerArgs[*proto.ClientPlayerAction](conn, pkt)
	if err != nil {
		return err
	}
	if action.Status == proto.StatusReleaseUseItem {
		player.RefreshActiveHand(false, false, false)
	}
	return nil
}

func (h *Hub) handleHeartbeat(_ context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, beat, err := listenerArgs[*proto.ClientHeartbeat](conn, pkt)
	if err != nil {
		return err
	}
	now := time.Now()
	rtt := player.recordHeartbeat(now, beat.SentAt)
	player.sendSelf(&proto.HeartbeatAck{
		ServerTime: now.UnixMilli(),
		ClientTime: beat.SentAt,
		RTTMillis:  rtt.Milliseconds(),
	})
	return nil
}

func (h *Hub) handleConsole(ctx context.Context, conn dispatch.Conn, pkt proto.ClientPacket) error {
	player, console, err := listenerArgs[*proto.ClientConsole](conn, pkt)
	if err != nil {
		return err
	}
	ack := h.runConsole(ctx, player, console.Cmd, console.Args)
	player.sendSelf(ack)
	return nil
}
