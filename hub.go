package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stutterguard/server/internal/config"
	"stutterguard/server/internal/dispatch"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/internal/redact"
	"stutterguard/server/internal/telemetry"
	"stutterguard/server/logging"
	loggingecho "stutterguard/server/logging/echo"
	"stutterguard/server/logging/lifecycle"
)

var ErrUnknownPlayer = errors.New("server: unknown player")

// Conn is the subscriber side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub owns all joined players and their subscriber connections.
//
// Lock order: a player's execution lock, then mu, then a subscriber's mu.
type Hub struct {
	mu          sync.Mutex
	players     map[string]*Player
	subscribers map[string]*subscriber
	nextID      atomic.Int32
	tick        atomic.Uint64

	cfg       HubConfig
	profiles  *redact.Profiles
	registry  *dispatch.Registry
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	counters  *telemetry.Counters
	telemetry *telemetryCounters
}

type subscriber struct {
	conn Conn
	mu   sync.Mutex
}

// WriteMessage serializes writes to the underlying connection.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// HubConfig captures the tunables and collaborators of a Hub.
type HubConfig struct {
	TickRate           int
	HeartbeatInterval  time.Duration
	DefaultProfile     string
	ElytraLandingTicks int
	ItemUseTicks       int
	FireTicks          int

	// Profiles defaults to the built-in profiles.
	Profiles *redact.Profiles
	// Registry defaults to a fresh registry. A registry whose echo scope is
	// already installed is rejected.
	Registry  *dispatch.Registry
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// DefaultHubConfig returns the built-in hub settings.
func DefaultHubConfig() HubConfig {
	return HubConfigFrom(config.Default())
}

// HubConfigFrom copies the hub settings out of a loaded configuration.
func HubConfigFrom(cfg config.Config) HubConfig {
	return HubConfig{
		TickRate:           cfg.TickRate,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		DefaultProfile:     cfg.DefaultProfile,
		ElytraLandingTicks: cfg.ElytraLandingTicks,
		ItemUseTicks:       cfg.ItemUseTicks,
		FireTicks:          cfg.FireTicks,
	}
}

func (cfg HubConfig) normalized() HubConfig {
	defaults := config.Default()
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaults.TickRate
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = defaults.DefaultProfile
	}
	if cfg.ElytraLandingTicks <= 0 {
		cfg.ElytraLandingTicks = defaults.ElytraLandingTicks
	}
	if cfg.ItemUseTicks <= 0 {
		cfg.ItemUseTicks = defaults.ItemUseTicks
	}
	if cfg.FireTicks <= 0 {
		cfg.FireTicks = defaults.FireTicks
	}
	return cfg
}

// NewHubWithConfig builds a hub, registers the client listeners and installs
// echo scope on its registry.
func NewHubWithConfig(cfg HubConfig) (*Hub, error) {
	cfg = cfg.normalized()

	h := &Hub{
		players:     make(map[string]*Player),
		subscribers: make(map[string]*subscriber),
		cfg:         cfg,
		profiles:    cfg.Profiles,
		logger:      cfg.Logger,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		telemetry:   newTelemetryCounters(),
	}
	if h.profiles == nil {
		h.profiles = redact.BuiltinProfiles()
	}
	if h.logger == nil {
		h.logger = telemetry.WrapLogger(log.Default())
	}
	if h.publisher == nil {
		h.publisher = logging.NopPublisher()
	}
	if h.metrics == nil {
		h.counters = telemetry.NewCounters()
		h.metrics = h.counters
	}
	if _, err := h.profiles.Lookup(cfg.DefaultProfile); err != nil {
		return nil, fmt.Errorf("server: default profile: %w", err)
	}

	h.registry = cfg.Registry
	if h.registry == nil {
		h.registry = dispatch.NewRegistry(
			dispatch.WithPublisher(h.publisher),
			dispatch.WithLogger(h.logger),
			dispatch.WithMetrics(h.metrics),
		)
	}
	h.registerListeners()
	if err := h.registry.InstallEchoScope(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return h, nil
}

// NewHub returns a hub with the default settings.
func NewHub() *Hub {
	hub, err := NewHubWithConfig(DefaultHubConfig())
	if err != nil {
		panic(err)
	}
	return hub
}

// Join registers a new player with the default profile attached.
func (h *Hub) Join() JoinResponse {
	entityID := h.nextID.Add(1)
	playerID := fmt.Sprintf("player-%d", entityID)

	profile := h.cfg.DefaultProfile
	policy, err := h.profiles.Lookup(profile)
	if err != nil || policy == nil {
		profile, policy = redact.ProfileNone, nil
	}
	player := newPlayer(h, playerID, entityID, uuid.NewString(), profile, policy)

	h.mu.Lock()
	h.players[playerID] = player
	h.mu.Unlock()

	lifecycle.PlayerJoined(context.Background(), h.publisher, h.Tick(), logging.PlayerRef(playerID), lifecycle.PlayerJoinedPayload{
		EntityID: entityID,
		UUID:     player.uuid,
		Profile:  profile,
	}, nil)

	return JoinResponse{
		Ver:      ProtocolVersion,
		ID:       playerID,
		EntityID: entityID,
		UUID:     player.uuid,
		Profile:  profile,
	}
}

// Subscribe associates a connection with an existing player, announces the
// player to everyone else and returns the join frame for the new subscriber.
func (h *Hub) Subscribe(playerID string, conn Conn) (*subscriber, *proto.JoinGame, bool) {
	h.mu.Lock()
	player, ok := h.players[playerID]
	if !ok {
		h.mu.Unlock()
		return nil, nil, false
	}
	if existing, ok := h.subscribers[playerID]; ok {
		existing.conn.Close()
	}
	sub := &subscriber{conn: conn}
	h.subscribers[playerID] = sub
	others := h.otherPlayersLocked(playerID)
	h.mu.Unlock()

	player.lastHeartbeat.Store(time.Now().UnixMilli())

	join := &proto.JoinGame{Profile: player.Profile(), TickRate: h.cfg.TickRate}
	player.Exec(context.Background(), func() { join.Self = player.info() })
	for _, other := range others {
		other.Exec(context.Background(), func() { join.Players = append(join.Players, other.info()) })
	}

	h.sendToObservers(playerID, &proto.SpawnPlayer{Player: join.Self})
	return sub, join, true
}

// Disconnect removes a player and closes any active subscriber connection.
func (h *Hub) Disconnect(playerID string) bool {
	return h.disconnect(playerID, "closed")
}

func (h *Hub) disconnect(playerID, reason string) bool {
	h.mu.Lock()
	sub, subOK := h.subscribers[playerID]
	if subOK {
		delete(h.subscribers, playerID)
	}
	player, playerOK := h.players[playerID]
	if playerOK {
		delete(h.players, playerID)
	}
	h.mu.Unlock()

	if subOK {
		sub.conn.Close()
	}
	if !playerOK {
		return false
	}

	h.sendToObservers(playerID, &proto.DestroyEntities{EntityIDs: []int32{player.entityID}})
	lifecycle.PlayerDisconnected(context.Background(), h.publisher, h.Tick(), logging.PlayerRef(playerID), lifecycle.PlayerDisconnectedPayload{
		Reason: reason,
	}, nil)
	return true
}

// HandleClientPacket dispatches one decoded client packet on behalf of a
// player, holding the player's execution lock for the whole dispatch.
func (h *Hub) HandleClientPacket(ctx context.Context, playerID string, pkt proto.ClientPacket) error {
	player, ok := h.Player(playerID)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPlayer, playerID)
	}
	if logging.TraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, uuid.NewString())
	}
	var err error
	player.Exec(ctx, func() {
		err = h.registry.Dispatch(ctx, player, pkt)
	})
	return err
}

// SetPlayerPolicy attaches the named profile to a player. The reserved name
// "none" detaches filtering.
func (h *Hub) SetPlayerPolicy(ctx context.Context, playerID, profile string) (string, error) {
	player, ok := h.Player(playerID)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownPlayer, playerID)
	}
	var (
		previous string
		err      error
	)
	player.Exec(ctx, func() {
		previous, err = h.applyPolicy(ctx, player, profile)
	})
	return previous, err
}

// applyPolicy swaps the player's profile. Callers hold the execution lock.
func (h *Hub) applyPolicy(ctx context.Context, player *Player, profile string) (string, error) {
	policy, err := h.profiles.Lookup(profile)
	if err != nil {
		return "", err
	}
	previous := player.SetPolicy(profile, policy)
	loggingecho.PolicyChanged(ctx, h.publisher, h.Tick(), logging.PlayerRef(player.id), loggingecho.PolicyChangedPayload{
		Previous: previous,
		Current:  player.Profile(),
	}, nil)
	return previous, nil
}

// Player looks up a joined player.
func (h *Hub) Player(playerID string) (*Player, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	player, ok := h.players[playerID]
	return player, ok
}

// Observers lists the subscribed players that see playerID.
func (h *Hub) Observers(playerID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		if id != playerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) otherPlayersLocked(playerID string) []*Player {
	others := make([]*Player, 0, len(h.players))
	for id, player := range h.players {
		if id == playerID {
			continue
		}
		if _, ok := h.subscribers[id]; !ok {
			continue
		}
		others = append(others, player)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].entityID < others[j].entityID })
	return others
}

func (h *Hub) playersSnapshot() []*Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	players := make([]*Player, 0, len(h.players))
	for _, player := range h.players {
		players = append(players, player)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].entityID < players[j].entityID })
	return players
}

func (h *Hub) encode(pkt proto.Packet) ([]byte, bool) {
	data, err := proto.Encode(pkt)
	if err != nil {
		h.logger.Printf("failed to encode %s: %v", proto.TypeOf(pkt), err)
		return nil, false
	}
	return data, true
}

// sendTo writes pkt to one player's connection and returns the frame size.
func (h *Hub) sendTo(playerID string, pkt proto.Packet) int {
	data, ok := h.encode(pkt)
	if !ok {
		return 0
	}
	h.mu.Lock()
	sub, ok := h.subscribers[playerID]
	h.mu.Unlock()
	if ok {
		h.write(playerID, sub, data)
	}
	return len(data)
}

// sendToObservers writes pkt to every subscriber except playerID and returns
// the frame size.
func (h *Hub) sendToObservers(playerID string, pkt proto.Packet) int {
	data, ok := h.encode(pkt)
	if !ok {
		return 0
	}
	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		if id != playerID {
			subs[id] = sub
		}
	}
	h.mu.Unlock()

	for id, sub := range subs {
		h.write(id, sub, data)
	}
	return len(data)
}

func (h *Hub) write(playerID string, sub *subscriber, data []byte) {
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Printf("failed to send update to %s: %v", playerID, err)
		go h.disconnect(playerID, "write failed")
		return
	}
	h.telemetry.RecordFrame(len(data))
}

// Tick reports the number of completed simulation ticks.
func (h *Hub) Tick() uint64 {
	return h.tick.Load()
}

// Registry exposes the dispatch registry so plugins can register custom
// client packet kinds.
func (h *Hub) Registry() *dispatch.Registry {
	return h.registry
}

// Profiles exposes the loaded redaction profiles.
func (h *Hub) Profiles() *redact.Profiles {
	return h.profiles
}

// DefaultProfile names the profile attached to new players.
func (h *Hub) DefaultProfile() string {
	return h.cfg.DefaultProfile
}

// TickRate reports the configured ticks per second.
func (h *Hub) TickRate() int {
	return h.cfg.TickRate
}

// HeartbeatInterval reports the expected client heartbeat cadence.
func (h *Hub) HeartbeatInterval() time.Duration {
	return h.cfg.HeartbeatInterval
}

// DiagnosticsSnapshot exposes heartbeat, profile and echo data per player.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsPlayer {
	h.mu.Lock()
	players := make([]*Player, 0, len(h.players))
	subscribed := make(map[string]bool, len(h.subscribers))
	for id, player := range h.players {
		players = append(players, player)
		if _, ok := h.subscribers[id]; ok {
			subscribed[id] = true
		}
	}
	h.mu.Unlock()

	sort.Slice(players, func(i, j int) bool { return players[i].entityID < players[j].entityID })
	out := make([]DiagnosticsPlayer, 0, len(players))
	for _, player := range players {
		out = append(out, DiagnosticsPlayer{
			Ver:           ProtocolVersion,
			ID:            player.id,
			EntityID:      player.entityID,
			Profile:       player.Profile(),
			Subscribed:    subscribed[player.id],
			LastHeartbeat: player.lastHeartbeat.Load(),
			RTTMillis:     time.Duration(player.lastRTT.Load()).Milliseconds(),
			Echo:          player.stats.summary(),
		})
	}
	return out
}

// Diagnostics assembles the full diagnostics payload.
func (h *Hub) Diagnostics() Diagnostics {
	return Diagnostics{
		Ver:       ProtocolVersion,
		Tick:      h.Tick(),
		Installed: h.registry.Installed(),
		Profiles:  h.profiles.Names(),
		Players:   h.DiagnosticsSnapshot(),
		Telemetry: h.TelemetrySnapshot(),
		Metrics:   h.counters.Snapshot(),
	}
}

// TelemetrySnapshot copies the hub counters.
func (h *Hub) TelemetrySnapshot() TelemetrySnapshot {
	return h.telemetry.Snapshot()
}
