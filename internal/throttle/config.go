package throttle

import "time"

// Config holds configuration for shadow-ban backoff.
type Config struct {
	// Enabled controls whether throttling signals trigger waiting at all
	Enabled bool `yaml:"enabled"`

	// Wait schedule: BaseWait + StepWait × escalation
	BaseWait time.Duration `yaml:"base_wait"` // default: 12m
	StepWait time.Duration `yaml:"step_wait"` // default: 2m

	// MaxEscalations bounds consecutive waits before a forced session reset (default: 3)
	MaxEscalations int `yaml:"max_escalations"`
}

// DefaultConfig returns the schedule that keeps the upstream from extending its ban.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		BaseWait:       12 * time.Minute,
		StepWait:       2 * time.Minute,
		MaxEscalations: 3,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseWait <= 0 {
		c.BaseWait = def.BaseWait
	}
	if c.StepWait <= 0 {
		c.StepWait = def.StepWait
	}
	if c.MaxEscalations <= 0 {
		c.MaxEscalations = def.MaxEscalations
	}
	return c
}
