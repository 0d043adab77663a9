// Package intake admits raw client frames: it rate-limits them per
// connection and decodes the survivors into dispatchable packets.
package intake

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"stutterguard/server/internal/net/proto"
)

// Rejection reasons reported for refused frames.
const (
	RejectRateLimited = "rate_limited"
	RejectMalformed   = "malformed"
	RejectUnknownType = "unknown_type"
	RejectVersion     = "version"
)

// Limits bounds the frame rate of one connection. A non-positive Rate
// disables limiting.
type Limits struct {
	Rate  float64
	Burst int
}

// Gate admits the frames of one connection. It is not safe for concurrent
// use; each session owns its gate.
type Gate struct {
	limits  Limits
	limiter *rate.Limiter
	now     func() time.Time
}

// NewGate returns a gate enforcing limits.
func NewGate(limits Limits) *Gate {
	limit := rate.Inf
	if limits.Rate > 0 {
		limit = rate.Limit(limits.Rate)
	}
	burst := limits.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		limits:  limits,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Limits reports the configured limits.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Stage admits one frame. On refusal it returns the rejection reason and the
// underlying error.
func (g *Gate) Stage(payload []byte) (proto.ClientPacket, string, error) {
	if !g.limiter.AllowN(g.now(), 1) {
		return nil, RejectRateLimited, errors.New("intake: frame rate exceeded")
	}
	msg, err := proto.DecodeClientMessage(payload)
	if err != nil {
		if msg.Ver != 0 && msg.Ver != proto.Version {
			return nil, RejectVersion, err
		}
		return nil, RejectMalformed, err
	}
	pkt, err := proto.ClientPacketOf(msg)
	switch {
	case errors.Is(err, proto.ErrUnknownMessage):
		return nil, RejectUnknownType, err
	case err != nil:
		return nil, RejectMalformed, err
	}
	return pkt, "", nil
}
