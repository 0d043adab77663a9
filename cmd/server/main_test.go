package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"stutterguard/server/internal/redact"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewServerCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewServerCommand(t *testing.T) {
	cmd := NewServerCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "server", cmd.Use)
	assert.True(t, cmd.HasSubCommands())

	for _, name := range []string{"serve", "profile", "schema"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestServeFlags(t *testing.T) {
	serve, _, err := NewServerCommand().Find([]string{"serve"})
	require.NoError(t, err)

	for _, flag := range []string{"config", "addr", "profile", "client-dir"} {
		assert.NotNil(t, serve.Flags().Lookup(flag), flag)
	}
}

func TestServeOptionsOverrideConfig(t *testing.T) {
	path := writeFile(t, "server.yaml", "addr: \":9000\"\ntickRate: 10\n")

	settings, err := serveOptions{configPath: path, addr: ":9100", profile: redact.ProfileNone}.settings()
	require.NoError(t, err)
	assert.Equal(t, ":9100", settings.Addr)
	assert.Equal(t, 10, settings.TickRate)
	assert.Equal(t, redact.ProfileNone, settings.DefaultProfile)
}

func TestServeOptionsRejectUnknownProfile(t *testing.T) {
	_, err := serveOptions{profile: "loud"}.settings()
	assert.ErrorIs(t, err, redact.ErrUnknownProfile)
}

func TestProfileShowDefault(t *testing.T) {
	out, err := execute(t, "profile", "show", redact.ProfileDefault)
	require.NoError(t, err)

	body := bytes.TrimPrefix([]byte(out), []byte("# default\n"))
	var spec redact.ProfileSpec
	require.NoError(t, yaml.Unmarshal(body, &spec))
	assert.Equal(t, []int{6, 8}, spec.DropFields)
	assert.Equal(t, []redact.BitRule{{Field: 0, Mask: 0x0a}}, spec.DropBits)
	assert.True(t, spec.DropAttributes)
	require.NotNil(t, spec.AllowTerminalStateBroadcast)
	assert.True(t, *spec.AllowTerminalStateBroadcast)
}

func TestProfileShowNone(t *testing.T) {
	out, err := execute(t, "profile", "show", redact.ProfileNone)
	require.NoError(t, err)
	assert.Contains(t, out, "filtering disabled")
}

func TestProfileShowUnknown(t *testing.T) {
	_, err := execute(t, "profile", "show", "loud")
	assert.ErrorIs(t, err, redact.ErrUnknownProfile)
}

func TestProfileValidate(t *testing.T) {
	path := writeFile(t, "profiles.yaml", `version: 1
profiles:
  crouch-only:
    dropBits:
      - field: 0
        mask: 0x02
`)

	out, err := execute(t, "profile", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 3 profiles")
	assert.Contains(t, out, "crouch-only")

	bad := writeFile(t, "bad.yaml", "version: 2\n")
	_, err = execute(t, "profile", "validate", bad)
	assert.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Contains(t, schema, "properties")
}
