package server

import (
	"context"
	"time"

	"stutterguard/server/internal/metadata"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/logging"
	"stutterguard/server/logging/simulation"
)

// RunSimulation drives the fixed-rate tick loop until the stop channel closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	interval := time.Second / time.Duration(h.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var streak uint64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			start := time.Now()
			tick := h.Advance(now)
			duration := time.Since(start)
			h.telemetry.RecordTickDuration(duration, interval)
			if duration <= interval {
				streak = 0
				continue
			}
			streak++
			simulation.TickBudgetOverrun(context.Background(), h.publisher, tick, simulation.TickBudgetOverrunPayload{
				DurationMillis: duration.Milliseconds(),
				BudgetMillis:   interval.Milliseconds(),
				Ratio:          float64(duration) / float64(interval),
				Streak:         streak,
			}, nil)
		}
	}
}

// Advance runs one server tick: stale connections are dropped and timed
// player states run out. It returns the new tick number.
func (h *Hub) Advance(now time.Time) uint64 {
	tick := h.tick.Add(1)
	timeout := disconnectAfter * h.cfg.HeartbeatInterval

	var stale []string
	for _, player := range h.playersSnapshot() {
		if now.Sub(time.UnixMilli(player.lastHeartbeat.Load())) > timeout {
			stale = append(stale, player.id)
			continue
		}
		player.Exec(context.Background(), func() {
			h.advancePlayer(player, tick)
		})
	}

	for _, id := range stale {
		h.logger.Printf("disconnecting %s due to heartbeat timeout", id)
		h.disconnect(id, "heartbeat timeout")
	}
	return tick
}

// advancePlayer ends the timed states of one player. Nothing here runs in a
// client-echo scope, so only the predicted entry points are filtered.
// Callers hold the execution lock.
func (h *Hub) advancePlayer(player *Player, tick uint64) {
	if player.fireTicks > 0 {
		player.fireTicks--
		if player.fireTicks == 0 {
			player.SetOnFire(false)
			h.stateExpired(player, tick, "fire")
		}
	}

	switch {
	case player.handReleaseAt != 0:
		if tick < player.handReleaseAt {
			break
		}
		player.handReleaseAt = 0
		player.ForceMetadata(func() {
			player.RefreshActiveHand(false, false, false)
		})
		player.sendSelf(&proto.ConsoleAck{Cmd: consoleSelfMeta, Status: consoleStatusOK, Reason: "hand=inactive"})
		h.stateExpired(player, tick, "hand")
	case player.usingItem:
		player.itemUseTicks++
		if player.itemUseTicks >= h.cfg.ItemUseTicks {
			player.RefreshActiveHand(false, false, false)
			h.stateExpired(player, tick, "item_use")
		}
	}

	if player.hasFlag(metadata.FlagFlyingWithElytra) {
		player.elytraTicks++
		if player.elytraTicks >= h.cfg.ElytraLandingTicks {
			player.SetFlyingWithElytra(false)
			h.stateExpired(player, tick, "elytra")
		}
	}
}

func (h *Hub) stateExpired(player *Player, tick uint64, state string) {
	simulation.StateExpired(player.ctx, h.publisher, tick, logging.PlayerRef(player.id), simulation.StateExpiredPayload{
		State: state,
	}, nil)
}
