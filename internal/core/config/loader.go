package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

var (
	// ErrNoLocations is returned when the config lists no location.
	ErrNoLocations = errors.New("at least one location is required")

	// ErrInvalidWorkers is returned for a worker count below one.
	ErrInvalidWorkers = errors.New("concurrency.workers must be at least 1")
)

// Load reads configuration from a YAML file. Keys the file omits keep
// their Default value.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration after expanding environment variables.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	for i := range cfg.Locations {
		cfg.Locations[i].Label = strings.TrimSpace(cfg.Locations[i].Label)
		cfg.Locations[i].Code = strings.TrimSpace(cfg.Locations[i].Code)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks locations, codes and the pool size.
func (c *AppConfig) Validate() error {
	if len(c.Locations) == 0 {
		return ErrNoLocations
	}
	for _, loc := range c.Locations {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("invalid location: %w", err)
		}
	}
	if c.Concurrency.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Concurrency.Workers)
	}
	if c.BookingAPI.Enabled && (c.Features.InstantCode || c.Features.BookRemotely) && c.Contact.Phone == "" {
		return errors.New("contact.phone is required for the booking api")
	}
	return nil
}
