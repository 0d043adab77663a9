package intake

import (
	"testing"
	"time"

	"stutterguard/server/internal/net/proto"
)

func TestStageDecodesInputFrame(t *testing.T) {
	gate := NewGate(Limits{})

	pkt, reason, err := gate.Stage([]byte(`{"ver":1,"type":"input","keys":{"shift":true}}`))
	if err != nil {
		t.Fatalf("expected frame to be admitted, got %s: %v", reason, err)
	}
	input, ok := pkt.(*proto.ClientInput)
	if !ok || !input.Keys.Shift {
		t.Fatalf("expected shift input, got %#v", pkt)
	}
}

func TestStageRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		reason  string
	}{
		{name: "not json", payload: `{`, reason: RejectMalformed},
		{name: "future version", payload: `{"ver":9,"type":"input"}`, reason: RejectVersion},
		{name: "unknown type", payload: `{"type":"teleport"}`, reason: RejectUnknownType},
		{name: "bad action", payload: `{"type":"entityAction","action":"dance"}`, reason: RejectMalformed},
		{name: "input without keys", payload: `{"type":"input"}`, reason: RejectMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := NewGate(Limits{})
			pkt, reason, err := gate.Stage([]byte(tc.payload))
			if err == nil || pkt != nil {
				t.Fatalf("expected rejection, got packet %#v", pkt)
			}
			if reason != tc.reason {
				t.Fatalf("expected reason %q, got %q (%v)", tc.reason, reason, err)
			}
		})
	}
}

func TestStageRateLimitsAfterBurst(t *testing.T) {
	gate := NewGate(Limits{Rate: 1, Burst: 2})
	fixed := time.Unix(100, 0)
	gate.now = func() time.Time { return fixed }

	frame := []byte(`{"type":"heartbeat","sentAt":1}`)
	for i := 0; i < 2; i++ {
		if _, reason, err := gate.Stage(frame); err != nil {
			t.Fatalf("frame %d: expected admission, got %s: %v", i, reason, err)
		}
	}
	if _, reason, _ := gate.Stage(frame); reason != RejectRateLimited {
		t.Fatalf("expected third frame to be rate limited, got %q", reason)
	}

	fixed = fixed.Add(time.Second)
	if _, reason, err := gate.Stage(frame); err != nil {
		t.Fatalf("expected a refilled token after one second, got %s: %v", reason, err)
	}
}
