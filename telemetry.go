package server

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"stutterguard/server/internal/echo"
)

type telemetryCounters struct {
	bytesSent            atomic.Uint64
	framesSent           atomic.Uint64
	tickDurationMillis   atomic.Int64
	selfRedacted         atomic.Uint64
	selfSuppressed       atomic.Uint64
	attributesSuppressed atomic.Uint64
	selfBytesSaved       atomic.Uint64
	tickOverruns         atomic.Uint64
	debug                bool
}

// TelemetrySnapshot is a point-in-time copy of the hub counters.
type TelemetrySnapshot struct {
	BytesSent            uint64 `json:"bytesSent"`
	FramesSent           uint64 `json:"framesSent"`
	TickDuration         int64  `json:"tickDurationMillis"`
	TickOverruns         uint64 `json:"tickOverruns"`
	SelfRedacted         uint64 `json:"selfRedacted"`
	SelfSuppressed       uint64 `json:"selfSuppressed"`
	AttributesSuppressed uint64 `json:"attributesSuppressed"`
	SelfBytesSaved       uint64 `json:"selfBytesSaved"`
	SelfBytesSavedHuman  string `json:"selfBytesSavedHuman"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) RecordFrame(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.framesSent.Add(1)
}

func (t *telemetryCounters) RecordSplit(outcome echo.Outcome, saved int) {
	switch outcome {
	case echo.Redacted:
		t.selfRedacted.Add(1)
	case echo.SelfSuppressed:
		t.selfSuppressed.Add(1)
	case echo.AttributesSuppressed:
		t.attributesSuppressed.Add(1)
	default:
		return
	}
	if saved > 0 {
		t.selfBytesSaved.Add(uint64(saved))
	}
}

func (t *telemetryCounters) RecordTickDuration(duration, budget time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if budget > 0 && duration > budget {
		t.tickOverruns.Add(1)
	}
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms frames=%d bytes=%s saved=%s\n",
			millis,
			t.framesSent.Load(),
			humanize.Bytes(t.bytesSent.Load()),
			humanize.Bytes(t.selfBytesSaved.Load()),
		)
	}
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	saved := t.selfBytesSaved.Load()
	return TelemetrySnapshot{
		BytesSent:            t.bytesSent.Load(),
		FramesSent:           t.framesSent.Load(),
		TickDuration:         t.tickDurationMillis.Load(),
		TickOverruns:         t.tickOverruns.Load(),
		SelfRedacted:         t.selfRedacted.Load(),
		SelfSuppressed:       t.selfSuppressed.Load(),
		AttributesSuppressed: t.attributesSuppressed.Load(),
		SelfBytesSaved:       saved,
		SelfBytesSavedHuman:  humanize.Bytes(saved),
	}
}
