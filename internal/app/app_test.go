package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stutterguard/server/internal/config"
	"stutterguard/server/internal/dispatch"
	"stutterguard/server/internal/telemetry"
)

func quietLogger() telemetry.Logger {
	return telemetry.LoggerFunc(func(string, ...any) {})
}

func testSettings() config.Config {
	settings := config.Default()
	settings.Addr = "127.0.0.1:0"
	settings.LogMinSeverity = "error"
	return settings
}

func TestRunServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{
			Settings: testSettings(),
			Logger:   quietLogger(),
			OnListen: func(addr net.Addr) { addrs <- addr },
		})
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunRejectsInstalledRegistry(t *testing.T) {
	registry := dispatch.NewRegistry()
	require.NoError(t, registry.InstallEchoScope())

	err := Run(context.Background(), Config{
		Settings: testSettings(),
		Logger:   quietLogger(),
		Registry: registry,
	})
	assert.ErrorIs(t, err, dispatch.ErrAlreadyInstalled)
}

func TestRunRejectsUnknownDefaultProfile(t *testing.T) {
	settings := testSettings()
	settings.DefaultProfile = "loud"

	err := Run(context.Background(), Config{Settings: settings, Logger: quietLogger()})
	assert.Error(t, err)
}
