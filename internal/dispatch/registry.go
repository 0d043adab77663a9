// Package dispatch routes decoded client packets to their listeners and opens
// the sender's client-echo scope around the listeners that apply the
// client's own input.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"stutterguard/server/internal/echo"
	"stutterguard/server/internal/net/proto"
	"stutterguard/server/internal/telemetry"
	"stutterguard/server/logging"
	loggingecho "stutterguard/server/logging/echo"
)

// Kind identifies a client packet type.
type Kind string

const (
	KindInput        Kind = proto.TypeInput
	KindEntityAction Kind = proto.TypeEntityAction
	KindUseItem      Kind = proto.TypeUseItem
	KindPlayerAction Kind = proto.TypePlayerAction
	KindHeartbeat    Kind = proto.TypeHeartbeat
	KindConsole      Kind = proto.TypeConsole
)

// inputKinds are the packets whose listeners apply predicted client input.
var inputKinds = []Kind{KindInput, KindEntityAction, KindUseItem, KindPlayerAction}

var (
	ErrAlreadyInstalled = errors.New("dispatch: echo scope already installed")
	ErrUnknownKind      = errors.New("dispatch: no listener for packet kind")
)

// Conn is the connection a packet arrived on.
type Conn interface {
	ID() string
}

// Listener handles one decoded client packet.
type Listener func(ctx context.Context, conn Conn, pkt proto.ClientPacket) error

// Registry maps packet kinds to listeners. Callers serialize Dispatch per
// connection; the registry itself may be used from many connections at once.
type Registry struct {
	mu        sync.RWMutex
	listeners map[Kind]Listener
	scoped    map[Kind]bool
	installed atomic.Bool

	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

func WithPublisher(pub logging.Publisher) Option {
	return func(r *Registry) {
		if pub != nil {
			r.publisher = pub
		}
	}
}

func WithLogger(logger telemetry.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(metrics telemetry.Metrics) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		listeners: make(map[Kind]Listener),
		scoped:    make(map[Kind]bool),
		publisher: logging.NopPublisher(),
		logger:    telemetry.LoggerFunc(func(string, ...any) {}),
		metrics:   telemetry.NopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetListener registers l for kind, replacing any previous listener. A kind
// already placed in echo scope stays scoped.
func (r *Registry) SetListener(kind Kind, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l == nil {
		delete(r.listeners, kind)
		return
	}
	r.listeners[kind] = l
}

// WrapListener registers l for a custom kind and runs it in the sender's
// client-echo scope.
func (r *Registry) WrapListener(kind Kind, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[kind] = l
	r.scoped[kind] = true
}

// InstallEchoScope places the client input kinds in echo scope. It succeeds
// once per registry; later calls fail with ErrAlreadyInstalled and change
// nothing. Each hub owns exactly one registry and installs it at
// construction, so the guard holds for every input a server dispatches.
func (r *Registry) InstallEchoScope() error {
	if !r.installed.CompareAndSwap(false, true) {
		loggingecho.InstallRejected(context.Background(), r.publisher, loggingecho.InstallRejectedPayload{
			Reason: ErrAlreadyInstalled.Error(),
		})
		return ErrAlreadyInstalled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range inputKinds {
		r.scoped[kind] = true
	}
	return nil
}

// Installed reports whether InstallEchoScope has run.
func (r *Registry) Installed() bool {
	return r.installed.Load()
}

// Scoped reports whether listeners for kind run in echo scope.
func (r *Registry) Scoped(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scoped[kind]
}

// Dispatch invokes the listener registered for pkt. Scoped kinds run inside
// the connection's client-echo scope when the connection participates in
// echo filtering; other connections are dispatched unscoped.
func (r *Registry) Dispatch(ctx context.Context, conn Conn, pkt proto.ClientPacket) error {
	if pkt == nil {
		return fmt.Errorf("%w: nil packet", ErrUnknownKind)
	}
	kind := Kind(pkt.Type())

	r.mu.RLock()
	listener, ok := r.listeners[kind]
	scoped := r.scoped[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	r.metrics.Add("dispatch_"+string(kind), 1)

	participant, ok := echo.As(conn)
	if !scoped || !ok {
		return listener(ctx, conn, pkt)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.reportScopeFailure(ctx, conn, kind, fmt.Sprint(rec), true)
			panic(rec)
		}
	}()
	err := echo.RunAsClientEcho(participant, func() error {
		return listener(ctx, conn, pkt)
	})
	if err != nil {
		r.reportScopeFailure(ctx, conn, kind, err.Error(), false)
	}
	return err
}

func (r *Registry) reportScopeFailure(ctx context.Context, conn Conn, kind Kind, reason string, panicked bool) {
	r.logger.Printf("echo scope for %s on %s closed after failure: %s", kind, conn.ID(), reason)
	loggingecho.ScopeError(ctx, r.publisher, 0, logging.PlayerRef(conn.ID()), loggingecho.ScopeErrorPayload{
		Kind:     string(kind),
		Error:    reason,
		Panicked: panicked,
	}, nil)
}
