package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stutterguard/server/internal/echo"
	"stutterguard/server/internal/metadata"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/internal/redact"
	"stutterguard/server/logging"
	loggingecho "stutterguard/server/logging/echo"
)

// Player is a joined player entity. Its metadata and its echo state are only
// touched while the execution lock is held; see Exec.
type Player struct {
	id       string
	entityID int32
	uuid     string
	name     string
	hub      *Hub

	exec    sync.Mutex
	ctx     context.Context
	echo    *echo.State
	profile atomic.Pointer[string]

	flags         byte
	pose          metadata.Pose
	living        byte
	movementSpeed float64
	sneakHeld     bool
	fireTicks     int
	elytraTicks   int
	usingItem     bool
	itemUseTicks  int
	handReleaseAt uint64

	lastHeartbeat atomic.Int64
	lastRTT       atomic.Int64

	stats playerEchoStats
}

type playerEchoStats struct {
	redacted             atomic.Uint64
	suppressed           atomic.Uint64
	attributesSuppressed atomic.Uint64
	bytesSaved           atomic.Uint64
}

func (s *playerEchoStats) record(outcome echo.Outcome, saved int) {
	switch outcome {
	case echo.Redacted:
		s.redacted.Add(1)
	case echo.SelfSuppressed:
		s.suppressed.Add(1)
	case echo.AttributesSuppressed:
		s.attributesSuppressed.Add(1)
	}
	if saved > 0 {
		s.bytesSaved.Add(uint64(saved))
	}
}

func (s *playerEchoStats) summary() EchoSummary {
	return EchoSummary{
		Redacted:             s.redacted.Load(),
		Suppressed:           s.suppressed.Load(),
		AttributesSuppressed: s.attributesSuppressed.Load(),
		BytesSaved:           s.bytesSaved.Load(),
	}
}

func newPlayer(hub *Hub, id string, entityID int32, uuid, profile string, policy *redact.Policy) *Player {
	p := &Player{
		id:            id,
		entityID:      entityID,
		uuid:          uuid,
		name:          id,
		hub:           hub,
		ctx:           context.Background(),
		echo:          echo.NewState(policy),
		movementSpeed: baseMovementSpeed,
	}
	p.profile.Store(&profile)
	p.lastHeartbeat.Store(time.Now().UnixMilli())
	return p
}

func (p *Player) ID() string      { return p.id }
func (p *Player) EntityID() int32 { return p.entityID }
func (p *Player) UUID() string    { return p.uuid }

// EchoState exposes the player's scope tracker to the dispatch layer.
func (p *Player) EchoState() *echo.State {
	if p == nil {
		return nil
	}
	return p.echo
}

// Exec runs fn with the player's execution lock held. Input dispatch, server
// ticks and administrative commands all go through it, so one of them at a
// time mutates the player. Exec is not reentrant.
func (p *Player) Exec(ctx context.Context, fn func()) {
	p.exec.Lock()
	defer p.exec.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	prev := p.ctx
	p.ctx = ctx
	defer func() { p.ctx = prev }()
	fn()
}

// Profile names the attached redaction profile.
func (p *Player) Profile() string {
	if name := p.profile.Load(); name != nil {
		return *name
	}
	return redact.ProfileNone
}

// Policy returns the attached redaction policy, nil when filtering is off.
func (p *Player) Policy() *redact.Policy {
	return p.echo.Policy()
}

// SetPolicy attaches policy under name and returns the name of the profile
// it replaced. A nil policy disables filtering for the player.
func (p *Player) SetPolicy(name string, policy *redact.Policy) string {
	if policy == nil {
		name = redact.ProfileNone
	}
	p.echo.SetPolicy(policy)
	previous := p.profile.Swap(&name)
	if previous == nil {
		return redact.ProfileNone
	}
	return *previous
}

// ForceMetadata runs mutate so that everything it broadcasts reaches the
// player unfiltered. Callers hold the execution lock.
func (p *Player) ForceMetadata(mutate func()) {
	echo.Force(p, mutate)
}

// Metadata copies the player's current metadata fields. Callers hold the
// execution lock.
func (p *Player) Metadata() metadata.Map {
	fields := metadata.Map{
		metadata.IndexPose:        metadata.PoseEntry(p.pose),
		metadata.IndexLivingFlags: metadata.Byte(p.living),
	}
	if p.flags != 0 {
		fields[metadata.IndexEntityFlags] = metadata.Byte(p.flags)
	}
	return fields
}

func (p *Player) info() proto.PlayerInfo {
	return proto.PlayerInfo{
		EntityID: p.entityID,
		UUID:     p.uuid,
		Name:     p.name,
		Fields:   p.Metadata(),
	}
}

// SetSneaking toggles the crouching flag and the matching pose. The client
// always predicts it.
func (p *Player) SetSneaking(sneaking bool) {
	echo.Predicted(p, func() {
		if p.setFlag(metadata.FlagCrouching, sneaking) {
			p.broadcastFlags()
		}
		p.updatePose()
	})
}

// SetSprinting toggles the sprinting flag and the movement speed attribute.
// The client always predicts it.
func (p *Player) SetSprinting(sprinting bool) {
	echo.Predicted(p, func() {
		if !p.setFlag(metadata.FlagSprinting, sprinting) {
			return
		}
		p.broadcastFlags()
		speed := baseMovementSpeed
		if sprinting {
			speed = baseMovementSpeed * sprintMultiplier
		}
		p.movementSpeed = speed
		p.SendPacketToViewersAndSelf(&proto.EntityAttributes{
			EntityID:   p.entityID,
			Properties: []proto.AttributeProperty{{Key: proto.AttributeMovementSpeed, Value: speed}},
		})
	})
}

// SetFlyingWithElytra starts or stops an elytra flight. Starting is
// predicted by the client; stopping is decided by the server.
func (p *Player) SetFlyingWithElytra(flying bool) {
	echo.FlightTransition(p, flying, func() {
		if !p.setFlag(metadata.FlagFlyingWithElytra, flying) {
			return
		}
		p.elytraTicks = 0
		p.broadcastFlags()
		p.updatePose()
	})
}

// RefreshActiveHand rewrites the living flags. The client always predicts
// it.
func (p *Player) RefreshActiveHand(active, offHand, riptide bool) {
	echo.Predicted(p, func() {
		var living byte
		if active {
			living |= metadata.LivingHandActive
		}
		if offHand {
			living |= metadata.LivingOffHand
		}
		if riptide {
			living |= metadata.LivingSpinAttack
		}
		p.usingItem = active
		if !active {
			p.itemUseTicks = 0
		}
		if living == p.living {
			return
		}
		p.living = living
		p.broadcastFields(metadata.Map{metadata.IndexLivingFlags: metadata.Byte(living)})
	})
}

// SetPose broadcasts a pose change.
func (p *Player) SetPose(pose metadata.Pose) {
	if p.pose == pose {
		return
	}
	p.pose = pose
	p.broadcastFields(metadata.Map{metadata.IndexPose: metadata.PoseEntry(pose)})
}

// SetOnFire sets the burning flag. Burning lasts the configured fire ticks.
func (p *Player) SetOnFire(burning bool) {
	if burning {
		p.fireTicks = p.hub.cfg.FireTicks
	} else {
		p.fireTicks = 0
	}
	if p.setFlag(metadata.FlagOnFire, burning) {
		p.broadcastFlags()
	}
}

// SetInvisible sets the invisibility flag.
func (p *Player) SetInvisible(invisible bool) {
	if p.setFlag(metadata.FlagInvisible, invisible) {
		p.broadcastFlags()
	}
}

// SetGlowing sets the glowing flag.
func (p *Player) SetGlowing(glowing bool) {
	if p.setFlag(metadata.FlagGlowing, glowing) {
		p.broadcastFlags()
	}
}

func (p *Player) hasFlag(bit byte) bool {
	return p.flags&bit != 0
}

func (p *Player) setFlag(bit byte, on bool) bool {
	next := p.flags &^ bit
	if on {
		next |= bit
	}
	if next == p.flags {
		return false
	}
	p.flags = next
	return true
}

func (p *Player) updatePose() {
	pose := metadata.PoseStanding
	switch {
	case p.hasFlag(metadata.FlagFlyingWithElytra):
		pose = metadata.PoseFallFlying
	case p.hasFlag(metadata.FlagSwimming):
		pose = metadata.PoseSwimming
	case p.hasFlag(metadata.FlagCrouching):
		pose = metadata.PoseSneaking
	}
	p.SetPose(pose)
}

func (p *Player) broadcastFlags() {
	p.broadcastFields(metadata.Map{metadata.IndexEntityFlags: metadata.Byte(p.flags)})
}

func (p *Player) broadcastFields(fields metadata.Map) {
	p.SendPacketToViewersAndSelf(&proto.EntityMetadata{EntityID: p.entityID, Fields: fields})
}

// SendPacketToViewersAndSelf is the player's broadcast primitive: observers
// always receive pkt, the player receives whatever is left of it after echo
// filtering. Callers hold the execution lock.
func (p *Player) SendPacketToViewersAndSelf(pkt proto.Packet) echo.Result {
	out := &splitBroadcast{hub: p.hub, playerID: p.id}
	res := echo.Split(p, pkt, out)
	p.recordSplit(pkt, res, out)
	return res
}

// sendSelf writes pkt to the player's own connection only.
func (p *Player) sendSelf(pkt proto.Packet) {
	p.hub.sendTo(p.id, pkt)
}

type splitBroadcast struct {
	hub           *Hub
	playerID      string
	selfBytes     int
	observerBytes int
}

func (b *splitBroadcast) SendToSelf(pkt proto.Packet) {
	b.selfBytes = b.hub.sendTo(b.playerID, pkt)
}

func (b *splitBroadcast) SendToObservers(pkt proto.Packet) {
	b.observerBytes = b.hub.sendToObservers(b.playerID, pkt)
}

func (p *Player) recordSplit(pkt proto.Packet, res echo.Result, out *splitBroadcast) {
	var saved int
	switch res.Outcome {
	case echo.Redacted:
		saved = out.observerBytes - out.selfBytes
	case echo.SelfSuppressed, echo.AttributesSuppressed:
		saved = out.observerBytes
	default:
		return
	}

	p.stats.record(res.Outcome, saved)
	p.hub.telemetry.RecordSplit(res.Outcome, saved)
	p.hub.metrics.Add("echo_"+res.Outcome.String(), 1)

	payload := loggingecho.SplitPayload{
		EntityID:   p.entityID,
		BytesSaved: saved,
		Packet:     proto.TypeOf(pkt),
	}
	if meta, ok := pkt.(*proto.EntityMetadata); ok {
		payload.Fields = len(meta.Fields)
	}
	if meta, ok := res.Self.(*proto.EntityMetadata); ok {
		payload.KeptFields = len(meta.Fields)
	}

	actor := logging.PlayerRef(p.id)
	extra := map[string]any{"profile": p.Profile()}
	tick := p.hub.Tick()
	switch res.Outcome {
	case echo.Redacted:
		loggingecho.SelfRedacted(p.ctx, p.hub.publisher, tick, actor, payload, extra)
	case echo.SelfSuppressed:
		loggingecho.SelfSuppressed(p.ctx, p.hub.publisher, tick, actor, payload, extra)
	case echo.AttributesSuppressed:
		loggingecho.AttributesSuppressed(p.ctx, p.hub.publisher, tick, actor, payload, extra)
	}
}

// recordHeartbeat stores the heartbeat time and round trip of the latest
// client heartbeat.
func (p *Player) recordHeartbeat(receivedAt time.Time, clientSent int64) time.Duration {
	p.lastHeartbeat.Store(receivedAt.UnixMilli())
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			p.lastRTT.Store(int64(rtt))
		}
	}
	return time.Duration(p.lastRTT.Load())
}
