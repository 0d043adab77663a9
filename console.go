package server

import (
	"context"
	"fmt"
	"strings"

	"stutterguard/server/internal/metadata"
	"stutterguard/server/internal/net/proto"
)

const (
	consoleSelfMeta = "selfmeta"
	consoleProfile  = "profile"
	consoleProfiles = "profiles"

	consoleStatusOK    = "ok"
	consoleStatusError = "error"
)

// SelfMetaOptions lists the toggles understood by the selfmeta command.
var SelfMetaOptions = []string{"fire", "sneak", "sprint", "invis", "glow", "elytra", "hand", "pose_sneak", "pose_stand", "pose_swim"}

// HandleConsoleCommand runs a console command for a player outside of any
// client input, as an administrator would.
func (h *Hub) HandleConsoleCommand(ctx context.Context, playerID, cmd string, args ...string) (*proto.ConsoleAck, bool) {
	player, ok := h.Player(playerID)
	if !ok {
		return nil, false
	}
	var ack *proto.ConsoleAck
	player.Exec(ctx, func() {
		ack = h.runConsole(ctx, player, cmd, args)
	})
	return ack, true
}

// runConsole parses and runs a console command. Callers hold the player's
// execution lock.
func (h *Hub) runConsole(ctx context.Context, player *Player, cmd string, args []string) *proto.ConsoleAck {
	fields := append(strings.Fields(cmd), args...)
	ack := proto.NewConsoleAck(cmd)
	if len(fields) == 0 {
		ack.Status = consoleStatusError
		ack.Reason = "empty command"
		return ack
	}
	ack.Cmd = fields[0]

	switch fields[0] {
	case consoleSelfMeta:
		if len(fields) < 2 {
			ack.Status = consoleStatusError
			ack.Reason = "usage: selfmeta <" + strings.Join(SelfMetaOptions, ",") + ">"
			return ack
		}
		results, err := h.selfMeta(player, strings.Join(fields[1:], ","))
		ack.Reason = strings.Join(results, "; ")
		ack.Status = consoleStatusOK
		if err != nil {
			ack.Status = consoleStatusError
			if ack.Reason != "" {
				ack.Reason += "; "
			}
			ack.Reason += err.Error()
		}
	case consoleProfile:
		if len(fields) < 2 {
			ack.Status = consoleStatusOK
			ack.Reason = player.Profile()
			return ack
		}
		previous, err := h.applyPolicy(ctx, player, fields[1])
		if err != nil {
			ack.Status = consoleStatusError
			ack.Reason = err.Error()
			return ack
		}
		ack.Status = consoleStatusOK
		ack.Reason = fmt.Sprintf("%s -> %s", previous, player.Profile())
	case consoleProfiles:
		ack.Status = consoleStatusOK
		ack.Reason = strings.Join(h.profiles.Names(), ",")
	default:
		ack.Status = consoleStatusError
		ack.Reason = "unknown command"
	}
	return ack
}

// SelfMeta runs a comma separated list of selfmeta toggles for a player.
func (h *Hub) SelfMeta(ctx context.Context, playerID, flags string) ([]string, error) {
	player, ok := h.Player(playerID)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPlayer, playerID)
	}
	var (
		results []string
		err     error
	)
	player.Exec(ctx, func() {
		results, err = h.selfMeta(player, flags)
	})
	return results, err
}

// selfMeta toggles debug metadata on the player. Every toggle is forced so
// the player sees its own state change. Callers hold the execution lock.
func (h *Hub) selfMeta(player *Player, flags string) ([]string, error) {
	var (
		results []string
		unknown []string
	)
	for _, flag := range strings.Split(flags, ",") {
		flag = strings.ToLower(strings.TrimSpace(flag))
		if flag == "" {
			continue
		}
		result, ok := h.selfMetaToggle(player, flag)
		if !ok {
			unknown = append(unknown, flag)
			continue
		}
		results = append(results, result)
	}
	if len(unknown) > 0 {
		return results, fmt.Errorf("unknown: %s (options: %s)", strings.Join(unknown, ","), strings.Join(SelfMetaOptions, ", "))
	}
	return results, nil
}

func (h *Hub) selfMetaToggle(player *Player, flag string) (string, bool) {
	var result string
	ok := true
	player.ForceMetadata(func() {
		switch flag {
		case "fire":
			next := !player.hasFlag(metadata.FlagOnFire)
			player.SetOnFire(next)
			result = fmt.Sprintf("fire=%t", next)
		case "sneak":
			next := !player.hasFlag(metadata.FlagCrouching)
			player.SetSneaking(next)
			result = fmt.Sprintf("sneak=%t", next)
		case "sprint":
			next := !player.hasFlag(metadata.FlagSprinting)
			player.SetSprinting(next)
			result = fmt.Sprintf("sprint=%t", next)
		case "invis":
			next := !player.hasFlag(metadata.FlagInvisible)
			player.SetInvisible(next)
			result = fmt.Sprintf("invis=%t", next)
		case "glow":
			next := !player.hasFlag(metadata.FlagGlowing)
			player.SetGlowing(next)
			result = fmt.Sprintf("glow=%t", next)
		case "elytra":
			next := !player.hasFlag(metadata.FlagFlyingWithElytra)
			player.SetFlyingWithElytra(next)
			result = fmt.Sprintf("elytra=%t", next)
		case "hand":
			player.RefreshActiveHand(true, false, false)
			player.handReleaseAt = h.Tick() + handReleaseTicks
			result = "hand=active"
		case "pose_sneak":
			player.SetPose(metadata.PoseSneaking)
			result = "pose=" + metadata.PoseSneaking.String()
		case "pose_stand":
			player.SetPose(metadata.PoseStanding)
			result = "pose=" + metadata.PoseStanding.String()
		case "pose_swim":
			player.SetPose(metadata.PoseSwimming)
			result = "pose=" + metadata.PoseSwimming.String()
		default:
			ok = false
		}
	})
	return result, ok
}
