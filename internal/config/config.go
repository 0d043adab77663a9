// Package config loads server settings from defaults, an optional YAML file
// and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"stutterguard/server/internal/redact"
	"stutterguard/server/logging"
)

// Config holds every tunable of the server.
type Config struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	TickRate          int           `yaml:"tickRate" env:"TICK_RATE"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"HEARTBEAT_INTERVAL"`

	InputRateLimit float64 `yaml:"inputRateLimit" env:"INPUT_RATE_LIMIT"`
	InputBurst     int     `yaml:"inputBurst" env:"INPUT_BURST"`

	ProfileFile    string `yaml:"profileFile" env:"PROFILE_FILE"`
	DefaultProfile string `yaml:"defaultProfile" env:"DEFAULT_PROFILE"`

	LogJSONPath    string `yaml:"logJsonPath" env:"LOG_JSON_PATH"`
	LogMinSeverity string `yaml:"logMinSeverity" env:"LOG_MIN_SEVERITY"`

	ElytraLandingTicks int `yaml:"elytraLandingTicks" env:"ELYTRA_LANDING_TICKS"`
	ItemUseTicks       int `yaml:"itemUseTicks" env:"ITEM_USE_TICKS"`
	FireTicks          int `yaml:"fireTicks" env:"FIRE_TICKS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:               ":8080",
		TickRate:           20,
		HeartbeatInterval:  2 * time.Second,
		InputRateLimit:     60,
		InputBurst:         30,
		DefaultProfile:     redact.ProfileDefault,
		LogMinSeverity:     "info",
		ElytraLandingTicks: 40,
		ItemUseTicks:       32,
		FireTicks:          60,
	}
}

// Load applies the YAML file at path (skipped when path is empty) and then
// the environment on top of the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick rate must be positive, got %d", c.TickRate))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.InputRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("input rate limit must be positive, got %g", c.InputRateLimit))
	}
	if c.InputBurst <= 0 {
		errs = append(errs, fmt.Errorf("input burst must be positive, got %d", c.InputBurst))
	}
	if c.DefaultProfile == "" {
		errs = append(errs, errors.New("default profile must not be empty"))
	}
	if _, err := logging.ParseSeverity(c.LogMinSeverity); err != nil {
		errs = append(errs, err)
	}
	for name, ticks := range map[string]int{
		"elytra landing ticks": c.ElytraLandingTicks,
		"item use ticks":       c.ItemUseTicks,
		"fire ticks":           c.FireTicks,
	} {
		if ticks <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, ticks))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// MinSeverity parses LogMinSeverity.
func (c Config) MinSeverity() logging.Severity {
	sev, err := logging.ParseSeverity(c.LogMinSeverity)
	if err != nil {
		return logging.SeverityInfo
	}
	return sev
}

// TickInterval is the wall time between server ticks.
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 20
	}
	return time.Second / time.Duration(c.TickRate)
}

// Profiles loads the configured profile file, or the built-in profiles when
// none is set, and checks that the default profile resolves.
func (c Config) Profiles() (*redact.Profiles, error) {
	profiles := redact.BuiltinProfiles()
	if c.ProfileFile != "" {
		loaded, err := redact.LoadProfileFile(c.ProfileFile)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}
	if _, err := profiles.Lookup(c.DefaultProfile); err != nil {
		return nil, fmt.Errorf("config: default profile: %w", err)
	}
	return profiles, nil
}
