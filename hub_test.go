package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stutterguard/server/internal/dispatch"
	"stutterguard/server/internal/metadata"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/internal/redact"
	"stutterguard/server/internal/telemetry"
	loggingecho "stutterguard/server/logging/echo"
	"stutterguard/server/logging/lifecycle"
	"stutterguard/server/logging/sinks"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *recordingConn) packets(t *testing.T) []proto.Packet {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	packets := make([]proto.Packet, 0, len(c.frames))
	for _, frame := range c.frames {
		pkt, err := proto.DecodeServerFrame(frame)
		if err != nil {
			t.Fatalf("failed to decode frame %s: %v", frame, err)
		}
		packets = append(packets, pkt)
	}
	return packets
}

// metadataFor returns the metadata packets addressed to entityID, in order.
func (c *recordingConn) metadataFor(t *testing.T, entityID int32) []metadata.Map {
	t.Helper()
	var out []metadata.Map
	for _, pkt := range c.packets(t) {
		if meta, ok := pkt.(*proto.EntityMetadata); ok && meta.EntityID == entityID {
			out = append(out, meta.Fields)
		}
	}
	return out
}

func (c *recordingConn) attributesFor(t *testing.T, entityID int32) []*proto.EntityAttributes {
	t.Helper()
	var out []*proto.EntityAttributes
	for _, pkt := range c.packets(t) {
		if attrs, ok := pkt.(*proto.EntityAttributes); ok && attrs.EntityID == entityID {
			out = append(out, attrs)
		}
	}
	return out
}

func quietLogger() telemetry.Logger {
	return telemetry.LoggerFunc(func(string, ...any) {})
}

func newTestHub(t *testing.T, mutate func(*HubConfig)) (*Hub, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	cfg := DefaultHubConfig()
	cfg.Publisher = memory
	cfg.Logger = quietLogger()
	if mutate != nil {
		mutate(&cfg)
	}
	hub, err := NewHubWithConfig(cfg)
	if err != nil {
		t.Fatalf("failed to construct hub: %v", err)
	}
	return hub, memory
}

type testClient struct {
	join JoinResponse
	conn *recordingConn
}

func joinAndSubscribe(t *testing.T, hub *Hub) testClient {
	t.Helper()
	join := hub.Join()
	conn := &recordingConn{}
	if _, _, ok := hub.Subscribe(join.ID, conn); !ok {
		t.Fatalf("failed to subscribe %s", join.ID)
	}
	return testClient{join: join, conn: conn}
}

func resetAll(clients ...testClient) {
	for _, client := range clients {
		client.conn.reset()
	}
}

func send(t *testing.T, hub *Hub, client testClient, pkt proto.ClientPacket) {
	t.Helper()
	if err := hub.HandleClientPacket(context.Background(), client.join.ID, pkt); err != nil {
		t.Fatalf("dispatch %s for %s: %v", pkt.Type(), client.join.ID, err)
	}
}

func assertMaps(t *testing.T, label string, got, want []metadata.Map) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d metadata packets %v, got %d %v", label, len(want), want, len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("%s: packet %d expected %v, got %v", label, i, want[i], got[i])
		}
	}
}

func crouchInput(shift bool) *proto.ClientInput {
	return &proto.ClientInput{Keys: proto.InputKeys{Shift: shift}}
}

func TestCrouchInputIsSuppressedForSelfOnly(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)
	resetAll(alice, bob)

	send(t, hub, alice, crouchInput(true))

	assertMaps(t, "self", alice.conn.metadataFor(t, alice.join.EntityID), nil)
	assertMaps(t, "observer", bob.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(metadata.FlagCrouching)},
		{metadata.IndexPose: metadata.PoseEntry(metadata.PoseSneaking)},
	})
}

func TestCrouchReleaseIsSuppressedForSelfOnly(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)

	send(t, hub, alice, crouchInput(true))
	resetAll(alice, bob)

	send(t, hub, alice, crouchInput(false))

	assertMaps(t, "self", alice.conn.metadataFor(t, alice.join.EntityID), nil)
	assertMaps(t, "observer", bob.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(0)},
		{metadata.IndexPose: metadata.PoseEntry(metadata.PoseStanding)},
	})
}

func TestSprintStopIsSuppressedForSelfOnly(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)

	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartSprinting})
	resetAll(alice, bob)

	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStopSprinting})

	if got := alice.conn.metadataFor(t, alice.join.EntityID); len(got) != 0 {
		t.Fatalf("expected no self metadata, got %v", got)
	}
	if got := alice.conn.attributesFor(t, alice.join.EntityID); len(got) != 0 {
		t.Fatalf("expected no self attributes, got %d", len(got))
	}
	assertMaps(t, "observer", bob.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(0)},
	})
	attrs := bob.conn.attributesFor(t, alice.join.EntityID)
	if len(attrs) != 1 || attrs[0].Properties[0].Value != baseMovementSpeed {
		t.Fatalf("expected observers to receive the base movement speed, got %v", attrs)
	}
}

func TestMixedFlagsKeepServerBitsForSelf(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)

	if _, err := hub.SelfMeta(context.Background(), alice.join.ID, "fire"); err != nil {
		t.Fatalf("selfmeta fire: %v", err)
	}
	resetAll(alice, bob)

	send(t, hub, alice, crouchInput(true))

	burningAndCrouching := metadata.FlagOnFire | metadata.FlagCrouching
	self := alice.conn.metadataFor(t, alice.join.EntityID)
	assertMaps(t, "self", self, []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(metadata.FlagOnFire)},
	})
	observer := bob.conn.metadataFor(t, alice.join.EntityID)
	if len(observer) != 2 || !observer[0].Equal(metadata.Map{metadata.IndexEntityFlags: metadata.Byte(burningAndCrouching)}) {
		t.Fatalf("expected observers to receive the unfiltered flags, got %v", observer)
	}
}

func TestSprintSuppressesFlagsAndAttributesForSelf(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)
	resetAll(alice, bob)

	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartSprinting})

	if got := alice.conn.metadataFor(t, alice.join.EntityID); len(got) != 0 {
		t.Fatalf("expected no self metadata, got %v", got)
	}
	if got := alice.conn.attributesFor(t, alice.join.EntityID); len(got) != 0 {
		t.Fatalf("expected no self attributes, got %v", got)
	}
	attrs := bob.conn.attributesFor(t, alice.join.EntityID)
	if len(attrs) != 1 || attrs[0].Properties[0].Key != proto.AttributeMovementSpeed {
		t.Fatalf("expected observers to receive the movement speed attribute, got %v", attrs)
	}
	if got := attrs[0].Properties[0].Value; got != baseMovementSpeed*sprintMultiplier {
		t.Fatalf("expected sprint speed %v, got %v", baseMovementSpeed*sprintMultiplier, got)
	}
}

func TestElytraLandingIsDeliveredToSelf(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.ElytraLandingTicks = 2 })
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)
	resetAll(alice, bob)

	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartFlyingWithElytra})

	assertMaps(t, "self start", alice.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(metadata.FlagFlyingWithElytra)},
	})
	resetAll(alice, bob)

	now := time.Now()
	hub.Advance(now)
	hub.Advance(now)

	landing := []metadata.Map{
		{metadata.IndexEntityFlags: metadata.Byte(0)},
		{metadata.IndexPose: metadata.PoseEntry(metadata.PoseStanding)},
	}
	assertMaps(t, "self landing", alice.conn.metadataFor(t, alice.join.EntityID), landing)
	assertMaps(t, "observer landing", bob.conn.metadataFor(t, alice.join.EntityID), landing)
}

func TestElytraLandingScopedWhenExemptionDisabled(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.ElytraLandingTicks = 1 })
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)

	player, _ := hub.Player(alice.join.ID)
	player.SetPolicy("legacy", redact.Default().SetAllowTerminalStateBroadcast(false))
	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartFlyingWithElytra})
	resetAll(alice, bob)

	hub.Advance(time.Now())

	assertMaps(t, "self landing", alice.conn.metadataFor(t, alice.join.EntityID), nil)
	if got := len(bob.conn.metadataFor(t, alice.join.EntityID)); got != 2 {
		t.Fatalf("expected observers to receive both landing packets, got %d", got)
	}
}

func TestDisabledProfileSendsSelfEverything(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)

	previous, err := hub.SetPlayerPolicy(context.Background(), alice.join.ID, redact.ProfileNone)
	if err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if previous != redact.ProfileDefault {
		t.Fatalf("expected previous profile %q, got %q", redact.ProfileDefault, previous)
	}
	resetAll(alice, bob)

	send(t, hub, alice, crouchInput(true))
	send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartSprinting})
	send(t, hub, alice, &proto.ClientUseItem{Hand: proto.HandOff})

	self := alice.conn.metadataFor(t, alice.join.EntityID)
	observer := bob.conn.metadataFor(t, alice.join.EntityID)
	assertMaps(t, "self equals observer", self, observer)
	if len(alice.conn.attributesFor(t, alice.join.EntityID)) != 1 {
		t.Fatalf("expected self to receive the attribute update")
	}
}

func TestObserversSeeTheSamePacketsUnderEveryProfile(t *testing.T) {
	var baseline []metadata.Map
	for _, profile := range []string{redact.ProfileNone, redact.ProfileDefault} {
		hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.DefaultProfile = profile })
		alice := joinAndSubscribe(t, hub)
		bob := joinAndSubscribe(t, hub)
		resetAll(alice, bob)

		send(t, hub, alice, crouchInput(true))
		send(t, hub, alice, &proto.ClientEntityAction{Action: proto.ActionStartSprinting})
		send(t, hub, alice, &proto.ClientUseItem{Hand: proto.HandMain})
		send(t, hub, alice, &proto.ClientPlayerAction{Status: proto.StatusReleaseUseItem})
		send(t, hub, alice, crouchInput(false))

		observer := bob.conn.metadataFor(t, alice.join.EntityID)
		if baseline == nil {
			baseline = observer
			continue
		}
		assertMaps(t, "profile "+profile, observer, baseline)
	}
}

func TestForcedSelfMetaReachesSelf(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	resetAll(alice)

	ack, ok := hub.HandleConsoleCommand(context.Background(), alice.join.ID, "selfmeta", "sneak,sprint")
	if !ok {
		t.Fatalf("expected console command to reach the player")
	}
	if ack.Status != "ok" || ack.Reason != "sneak=true; sprint=true" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	self := alice.conn.metadataFor(t, alice.join.EntityID)
	if len(self) != 3 {
		t.Fatalf("expected flags, pose and flags for self, got %v", self)
	}
	if len(alice.conn.attributesFor(t, alice.join.EntityID)) != 1 {
		t.Fatalf("expected forced sprint attribute to reach self")
	}
}

func TestConsoleSelfMetaHandReleasesAfterDelay(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	resetAll(alice)

	send(t, hub, alice, &proto.ClientConsole{Cmd: "selfmeta hand"})

	var acks []*proto.ConsoleAck
	for _, pkt := range alice.conn.packets(t) {
		if ack, ok := pkt.(*proto.ConsoleAck); ok {
			acks = append(acks, ack)
		}
	}
	if len(acks) != 1 || acks[0].Reason != "hand=active" {
		t.Fatalf("expected hand=active ack, got %+v", acks)
	}
	assertMaps(t, "raise", alice.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexLivingFlags: metadata.Byte(metadata.LivingHandActive)},
	})
	resetAll(alice)

	now := time.Now()
	for i := 0; i < handReleaseTicks; i++ {
		hub.Advance(now)
	}
	assertMaps(t, "release", alice.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexLivingFlags: metadata.Byte(0)},
	})
}

func TestConsoleUnknownSelfMetaFlag(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)

	ack, _ := hub.HandleConsoleCommand(context.Background(), alice.join.ID, "selfmeta glow,moonwalk")
	if ack.Status != "error" {
		t.Fatalf("expected error status, got %+v", ack)
	}
	if !strings.Contains(ack.Reason, "glow=true") || !strings.Contains(ack.Reason, "unknown: moonwalk") {
		t.Fatalf("unexpected reason %q", ack.Reason)
	}
}

func TestConsoleProfileCommands(t *testing.T) {
	hub, memory := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)

	ack, _ := hub.HandleConsoleCommand(context.Background(), alice.join.ID, "profile")
	if ack.Reason != redact.ProfileDefault {
		t.Fatalf("expected current profile, got %+v", ack)
	}
	ack, _ = hub.HandleConsoleCommand(context.Background(), alice.join.ID, "profile none")
	if ack.Status != "ok" || ack.Reason != "default -> none" {
		t.Fatalf("unexpected profile switch ack: %+v", ack)
	}
	ack, _ = hub.HandleConsoleCommand(context.Background(), alice.join.ID, "profile missing")
	if ack.Status != "error" {
		t.Fatalf("expected unknown profile to fail, got %+v", ack)
	}
	player, _ := hub.Player(alice.join.ID)
	if player.Policy() != nil {
		t.Fatalf("expected filtering to stay disabled after a failed switch")
	}
	if got := len(memory.EventsOfType(loggingecho.EventPolicyChanged)); got != 1 {
		t.Fatalf("expected one policy_changed event, got %d", got)
	}
}

func TestUseItemEndsAfterItemUseTicks(t *testing.T) {
	hub, _ := newTestHub(t, func(cfg *HubConfig) { cfg.ItemUseTicks = 3 })
	alice := joinAndSubscribe(t, hub)
	bob := joinAndSubscribe(t, hub)
	resetAll(alice, bob)

	send(t, hub, alice, &proto.ClientUseItem{Hand: proto.HandMain})
	now := time.Now()
	for i := 0; i < 3; i++ {
		hub.Advance(now)
	}

	if got := alice.conn.metadataFor(t, alice.join.EntityID); len(got) != 0 {
		t.Fatalf("expected hand changes to stay off the self path, got %v", got)
	}
	assertMaps(t, "observer", bob.conn.metadataFor(t, alice.join.EntityID), []metadata.Map{
		{metadata.IndexLivingFlags: metadata.Byte(metadata.LivingHandActive)},
		{metadata.IndexLivingFlags: metadata.Byte(0)},
	})
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	resetAll(alice)

	sentAt := time.Now().Add(-20 * time.Millisecond).UnixMilli()
	send(t, hub, alice, &proto.ClientHeartbeat{SentAt: sentAt})

	packets := alice.conn.packets(t)
	if len(packets) != 1 {
		t.Fatalf("expected one heartbeat ack, got %d", len(packets))
	}
	ack, ok := packets[0].(*proto.HeartbeatAck)
	if !ok || ack.ClientTime != sentAt || ack.RTTMillis < 0 {
		t.Fatalf("unexpected heartbeat ack: %#v", packets[0])
	}
}

func TestSubscribeAnnouncesAndDisconnectDestroys(t *testing.T) {
	hub, memory := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	alice.conn.reset()

	bobJoin := hub.Join()
	bobConn := &recordingConn{}
	_, join, ok := hub.Subscribe(bobJoin.ID, bobConn)
	if !ok {
		t.Fatalf("failed to subscribe bob")
	}
	if join.Self.EntityID != bobJoin.EntityID || len(join.Players) != 1 || join.Players[0].EntityID != alice.join.EntityID {
		t.Fatalf("unexpected join frame: %+v", join)
	}

	packets := alice.conn.packets(t)
	if len(packets) != 1 {
		t.Fatalf("expected a spawn announcement, got %d packets", len(packets))
	}
	if spawn, ok := packets[0].(*proto.SpawnPlayer); !ok || spawn.Player.EntityID != bobJoin.EntityID {
		t.Fatalf("unexpected spawn packet %#v", packets[0])
	}
	alice.conn.reset()

	if !hub.Disconnect(bobJoin.ID) {
		t.Fatalf("expected disconnect to remove bob")
	}
	if !bobConn.closed {
		t.Fatalf("expected bob's connection to be closed")
	}
	packets = alice.conn.packets(t)
	if len(packets) != 1 {
		t.Fatalf("expected a destroy packet, got %d packets", len(packets))
	}
	if destroy, ok := packets[0].(*proto.DestroyEntities); !ok || destroy.EntityIDs[0] != bobJoin.EntityID {
		t.Fatalf("unexpected destroy packet %#v", packets[0])
	}
	if got := len(memory.EventsOfType(lifecycle.EventPlayerDisconnected)); got != 1 {
		t.Fatalf("expected one disconnect event, got %d", got)
	}
	if hub.Disconnect(bobJoin.ID) {
		t.Fatalf("expected second disconnect to report false")
	}
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)

	hub.Advance(time.Now().Add(time.Minute))

	if _, ok := hub.Player(alice.join.ID); ok {
		t.Fatalf("expected stale player to be removed")
	}
	if !alice.conn.closed {
		t.Fatalf("expected stale connection to be closed")
	}
}

func TestDiagnosticsCountSelfPathSavings(t *testing.T) {
	hub, memory := newTestHub(t, nil)
	alice := joinAndSubscribe(t, hub)
	joinAndSubscribe(t, hub)

	send(t, hub, alice, crouchInput(true))

	diagnostics := hub.Diagnostics()
	if !diagnostics.Installed {
		t.Fatalf("expected echo scope to be installed")
	}
	if len(diagnostics.Players) != 2 {
		t.Fatalf("expected two players, got %d", len(diagnostics.Players))
	}
	summary := diagnostics.Players[0].Echo
	if summary.Suppressed != 2 || summary.BytesSaved == 0 {
		t.Fatalf("unexpected echo summary %+v", summary)
	}
	if diagnostics.Telemetry.SelfSuppressed != 2 || diagnostics.Telemetry.SelfBytesSavedHuman == "" {
		t.Fatalf("unexpected telemetry %+v", diagnostics.Telemetry)
	}
	if diagnostics.Metrics["echo_self_suppressed"] != 2 || diagnostics.Metrics["dispatch_input"] != 1 {
		t.Fatalf("unexpected metrics %v", diagnostics.Metrics)
	}

	events := memory.EventsOfType(loggingecho.EventSelfSuppressed)
	if len(events) != 2 {
		t.Fatalf("expected two self_suppressed events, got %d", len(events))
	}
	if events[0].TraceID == "" {
		t.Fatalf("expected dispatch trace id on echo events")
	}
}

func TestHandleClientPacketUnknownPlayer(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	err := hub.HandleClientPacket(context.Background(), "player-404", crouchInput(true))
	if !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestNewHubRejectsInstalledRegistry(t *testing.T) {
	registry := dispatch.NewRegistry()
	if err := registry.InstallEchoScope(); err != nil {
		t.Fatalf("install: %v", err)
	}
	_, err := NewHubWithConfig(HubConfig{Registry: registry, Logger: quietLogger()})
	if !errors.Is(err, dispatch.ErrAlreadyInstalled) {
		t.Fatalf("expected ErrAlreadyInstalled, got %v", err)
	}
}

func TestNewHubRejectsUnknownDefaultProfile(t *testing.T) {
	_, err := NewHubWithConfig(HubConfig{DefaultProfile: "ghost", Logger: quietLogger()})
	if !errors.Is(err, redact.ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}
