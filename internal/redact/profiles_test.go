package redact

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stutterguard/server/internal/metadata"
)

const sampleProfiles = `version: 1
profiles:
  strict:
    dropFields: [6, 8]
    dropBits:
      - field: 0
        mask: 2
      - field: 0
        mask: 8
    dropAttributes: true
    allowTerminalStateBroadcast: false
  sneakOnly:
    dropBits:
      - field: 0
        mask: 2
`

func TestLoadProfilesBuildsPolicies(t *testing.T) {
	profiles, err := LoadProfiles(strings.NewReader(sampleProfiles))
	require.NoError(t, err)

	strict, err := profiles.Lookup("strict")
	require.NoError(t, err)
	require.NotNil(t, strict)
	assert.Equal(t, []metadata.FieldID{metadata.IndexPose, metadata.IndexLivingFlags}, strict.DroppedFields())
	assert.Equal(t, byte(0x0a), strict.BitMasks()[metadata.IndexEntityFlags])
	assert.True(t, strict.DropsAttributes())
	assert.False(t, strict.AllowsTerminalStateBroadcast())

	sneak, err := profiles.Lookup("sneakOnly")
	require.NoError(t, err)
	filtered, changed := sneak.Evaluate(metadata.Map{metadata.IndexEntityFlags: metadata.Byte(0x0a)})
	require.True(t, changed)
	assert.True(t, filtered.Equal(metadata.Map{metadata.IndexEntityFlags: metadata.Byte(0x08)}))
	assert.True(t, sneak.AllowsTerminalStateBroadcast())
	assert.False(t, sneak.DropsAttributes())
}

func TestLoadProfilesKeepsBuiltinDefault(t *testing.T) {
	profiles, err := LoadProfiles(strings.NewReader(sampleProfiles))
	require.NoError(t, err)

	policy, err := profiles.Lookup(ProfileDefault)
	require.NoError(t, err)
	assert.Equal(t, SpecOf(Default()), SpecOf(policy))
	assert.Equal(t, []string{"default", "none", "sneakOnly", "strict"}, profiles.Names())
}

func TestLoadProfilesRejectsReservedName(t *testing.T) {
	_, err := LoadProfiles(strings.NewReader("version: 1\nprofiles:\n  none:\n    dropFields: [6]\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservedProfile))
}

func TestLoadProfilesRejectsUnknownVersion(t *testing.T) {
	_, err := LoadProfiles(strings.NewReader("version: 2\nprofiles: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 2")
}

func TestLoadProfilesRejectsEmptyMask(t *testing.T) {
	_, err := LoadProfiles(strings.NewReader("version: 1\nprofiles:\n  broken:\n    dropBits:\n      - field: 0\n        mask: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "broken"`)
}

func TestLookupNoneDisablesFiltering(t *testing.T) {
	policy, err := BuiltinProfiles().Lookup(ProfileNone)
	require.NoError(t, err)
	assert.Nil(t, policy)

	_, changed := policy.Evaluate(metadata.Map{metadata.IndexEntityFlags: metadata.Byte(0x02)})
	assert.False(t, changed)
}

func TestLookupUnknownProfile(t *testing.T) {
	_, err := BuiltinProfiles().Lookup("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}

func TestLookupSharesPolicyInstance(t *testing.T) {
	profiles := BuiltinProfiles()
	first, err := profiles.Lookup(ProfileDefault)
	require.NoError(t, err)
	second, err := profiles.Lookup(ProfileDefault)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestMarshalSpecRoundTrip(t *testing.T) {
	data, err := MarshalSpec(Default())
	require.NoError(t, err)

	body := "version: 1\nprofiles:\n  copy:\n" + indent(string(data), "    ")
	profiles, err := LoadProfiles(strings.NewReader(body))
	require.NoError(t, err)

	copied, err := profiles.Lookup("copy")
	require.NoError(t, err)
	assert.Equal(t, SpecOf(Default()), SpecOf(copied))
}

func TestLoadProfileFileMissing(t *testing.T) {
	_, err := LoadProfileFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadProfileFileFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfiles), 0o600))

	profiles, err := LoadProfileFile(path)
	require.NoError(t, err)
	assert.Contains(t, profiles.Names(), "strict")
}

func TestProfileSchemaDescribesFile(t *testing.T) {
	data, err := MarshalProfileSchema()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Self-echo redaction profiles", decoded["title"])

	properties, ok := decoded["properties"].(map[string]any)
	require.True(t, ok, "expected properties object in schema")
	assert.Contains(t, properties, "version")
	assert.Contains(t, properties, "profiles")
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n") + "\n"
}
