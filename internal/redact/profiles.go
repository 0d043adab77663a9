package redact

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"stutterguard/server/internal/metadata"
)

const (
	// ProfileDefault names the built-in player profile.
	ProfileDefault = "default"
	// ProfileNone names the reserved profile that disables filtering.
	ProfileNone = "none"

	profileFileVersion = 1
)

var (
	ErrUnknownProfile  = errors.New("redact: unknown profile")
	ErrReservedProfile = errors.New("redact: profile name is reserved")
)

// ProfileFile is the on-disk format of a set of named redaction profiles.
type ProfileFile struct {
	Version  int                    `yaml:"version" json:"version" jsonschema:"required,enum=1"`
	Profiles map[string]ProfileSpec `yaml:"profiles" json:"profiles" jsonschema:"required"`
}

// ProfileSpec declares one redaction profile.
type ProfileSpec struct {
	DropFields                  []int     `yaml:"dropFields,omitempty" json:"dropFields,omitempty" jsonschema:"description=Metadata indices removed from self-bound echoes"`
	DropBits                    []BitRule `yaml:"dropBits,omitempty" json:"dropBits,omitempty" jsonschema:"description=Bits stripped from packed flag bytes"`
	DropAttributes              bool      `yaml:"dropAttributes,omitempty" json:"dropAttributes,omitempty" jsonschema:"description=Suppress attribute echoes for the player's own entity"`
	AllowTerminalStateBroadcast *bool     `yaml:"allowTerminalStateBroadcast,omitempty" json:"allowTerminalStateBroadcast,omitempty" jsonschema:"description=Let the server-decided elytra stop reach the client (defaults to true)"`
}

// BitRule strips Mask from the flag byte at Field.
type BitRule struct {
	Field uint8 `yaml:"field" json:"field" jsonschema:"required"`
	Mask  uint8 `yaml:"mask" json:"mask" jsonschema:"required,minimum=1"`
}

// Policy builds the redaction policy s describes.
func (s ProfileSpec) Policy() (*Policy, error) {
	policy := New()
	for _, field := range s.DropFields {
		if field < 0 || field > math.MaxUint8 {
			return nil, fmt.Errorf("redact: field index %d out of range", field)
		}
		policy.DropField(metadata.FieldID(field))
	}
	for _, rule := range s.DropBits {
		if rule.Mask == 0 {
			return nil, fmt.Errorf("redact: bit rule for field %d has an empty mask", rule.Field)
		}
		policy.DropBits(metadata.FieldID(rule.Field), rule.Mask)
	}
	policy.SetDropComputedAttributes(s.DropAttributes)
	if s.AllowTerminalStateBroadcast != nil {
		policy.SetAllowTerminalStateBroadcast(*s.AllowTerminalStateBroadcast)
	}
	return policy, nil
}

// SpecOf describes an existing policy in profile file form.
func SpecOf(p *Policy) ProfileSpec {
	if p == nil {
		return ProfileSpec{}
	}
	var spec ProfileSpec
	for _, id := range p.DroppedFields() {
		spec.DropFields = append(spec.DropFields, int(id))
	}
	masks := p.BitMasks()
	fields := make([]int, 0, len(masks))
	for id := range masks {
		fields = append(fields, int(id))
	}
	sort.Ints(fields)
	for _, field := range fields {
		spec.DropBits = append(spec.DropBits, BitRule{Field: uint8(field), Mask: masks[metadata.FieldID(field)]})
	}
	spec.DropAttributes = p.DropsAttributes()
	allow := p.AllowsTerminalStateBroadcast()
	spec.AllowTerminalStateBroadcast = &allow
	return spec
}

// Profiles is a read-only registry of named policies. Each name resolves to
// one shared *Policy.
type Profiles struct {
	byName map[string]*Policy
}

// BuiltinProfiles returns the registry holding only the default profile.
func BuiltinProfiles() *Profiles {
	return &Profiles{byName: map[string]*Policy{ProfileDefault: Default()}}
}

// LoadProfiles parses a YAML profile file on top of the built-in profiles.
// A file may redefine "default"; "none" is reserved.
func LoadProfiles(r io.Reader) (*Profiles, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("redact: read profiles: %w", err)
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("redact: decode profiles: %w", err)
	}
	if file.Version != profileFileVersion {
		return nil, fmt.Errorf("redact: unsupported profile file version %d", file.Version)
	}

	profiles := BuiltinProfiles()
	for name, spec := range file.Profiles {
		if name == "" {
			return nil, errors.New("redact: profile with empty name")
		}
		if name == ProfileNone {
			return nil, fmt.Errorf("%w: %q", ErrReservedProfile, name)
		}
		policy, err := spec.Policy()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles.byName[name] = policy
	}
	return profiles, nil
}

// LoadProfileFile reads profiles from path.
func LoadProfileFile(path string) (*Profiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("redact: open profiles: %w", err)
	}
	defer f.Close()
	return LoadProfiles(f)
}

// Lookup resolves a profile by name. "none" resolves to a nil policy, which
// disables filtering.
func (p *Profiles) Lookup(name string) (*Policy, error) {
	if name == ProfileNone {
		return nil, nil
	}
	if p != nil {
		if policy, ok := p.byName[name]; ok {
			return policy, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// Names lists the registered profiles, including "none", sorted.
func (p *Profiles) Names() []string {
	names := []string{ProfileNone}
	if p != nil {
		for name := range p.byName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MarshalSpec renders a policy as a YAML profile body.
func MarshalSpec(p *Policy) ([]byte, error) {
	return yaml.Marshal(SpecOf(p))
}
