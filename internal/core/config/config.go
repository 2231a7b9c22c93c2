package config

import (
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/infra/booking"
	"github.com/vietddude/slotwatcher/internal/infra/notify"
	"github.com/vietddude/slotwatcher/internal/infra/probe"
	redisclient "github.com/vietddude/slotwatcher/internal/infra/redis"
	"github.com/vietddude/slotwatcher/internal/infra/storage/postgres"
	"github.com/vietddude/slotwatcher/internal/pool"
	"github.com/vietddude/slotwatcher/internal/recovery"
	"github.com/vietddude/slotwatcher/internal/relay"
	"github.com/vietddude/slotwatcher/internal/throttle"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Redis       redisclient.Config `yaml:"redis"`    // empty url: in-memory queue
	Database    postgres.Config    `yaml:"database"` // empty url: in-memory journal
	Site        SiteConfig         `yaml:"site"`
	Contact     domain.Contact     `yaml:"contact"`
	Waits       WaitsConfig        `yaml:"waits"`
	Features    FeaturesConfig     `yaml:"features"`
	Concurrency ConcurrencyConfig  `yaml:"concurrency"`
	Probe       probe.Config       `yaml:"probe"`
	BookingAPI  BookingAPIConfig   `yaml:"booking_api"`
	Backends    BackendsConfig     `yaml:"backends"`
	Locations   []domain.Location  `yaml:"locations"`
	Alerts      workflow.Templates `yaml:"alerts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SiteConfig points at the appointment service.
type SiteConfig struct {
	URL    string `yaml:"url"`
	Region string `yaml:"region"` // federal state picked on the landing page
}

// WaitsConfig holds every pause of the bot.
type WaitsConfig struct {
	Locations   time.Duration `yaml:"locations"`    // between locations in sequential mode
	Concurrent  time.Duration `yaml:"concurrent"`   // stagger between worker starts
	CodeTimeout time.Duration `yaml:"code_timeout"` // waiting for a relayed code
	ShadowBan   time.Duration `yaml:"shadow_ban"`   // base wait after throttling
	ShadowStep  time.Duration `yaml:"shadow_step"`  // added per escalation
	APICalls    time.Duration `yaml:"api_calls"`    // after a 429 of the REST API
	Rescan      time.Duration `yaml:"rescan"`
	HoldOpen    time.Duration `yaml:"hold_open"` // slots reserved after an alert
	Recovery    time.Duration `yaml:"recovery"`  // pause before a recovery action
	IdlePoll    time.Duration `yaml:"idle_poll"`
}

// FeaturesConfig toggles optional behavior.
type FeaturesConfig struct {
	Rescan              bool `yaml:"rescan"`
	AvoidShadowBan      bool `yaml:"avoid_shadow_ban"`
	SleepNight          bool `yaml:"sleep_night"`
	InstantCode         bool `yaml:"instant_code"`
	BookRemotely        bool `yaml:"book_remotely"`
	KeepResourceOnCrash bool `yaml:"keep_resource_on_crash"`
	MaxErrors           int  `yaml:"max_errors"`
	MaxEscalations      int  `yaml:"max_escalations"`
	MaxInferences       int  `yaml:"max_inferences"`
}

// ConcurrencyConfig holds the worker pool settings.
type ConcurrencyConfig struct {
	Enabled      bool `yaml:"enabled"`
	Workers      int  `yaml:"workers"`
	KeepResource bool `yaml:"keep_resource"`
	MaxPreserved int  `yaml:"max_preserved"`
	QuietFrom    int  `yaml:"quiet_from"`
	QuietTo      int  `yaml:"quiet_to"`
}

// BookingAPIConfig enables the REST client.
type BookingAPIConfig struct {
	Enabled        bool `yaml:"enabled"`
	booking.Config `yaml:",inline"`
}

// InboxConfig enables the redis inbox backend fed by `slotwatcher code`.
type InboxConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// BackendsConfig configures notification backends and the code relay.
type BackendsConfig struct {
	notify.Config  `yaml:",inline"`
	Inbox          InboxConfig   `yaml:"inbox"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Freshness      time.Duration `yaml:"freshness"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`
}

// Default returns the configuration used for every key the file omits.
func Default() AppConfig {
	wf := workflow.DefaultConfig()
	tc := throttle.DefaultConfig()
	pc := pool.DefaultConfig()
	rc := relay.DefaultConfig()
	bc := booking.DefaultConfig()
	return AppConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
		Site:    SiteConfig{URL: wf.BaseURL, Region: "Baden-Württemberg"},
		Waits: WaitsConfig{
			Locations:   pc.Pacing,
			Concurrent:  pc.Stagger,
			CodeTimeout: wf.CodeTimeout,
			ShadowBan:   tc.BaseWait,
			ShadowStep:  tc.StepWait,
			APICalls:    bc.ThrottleWait,
			Rescan:      wf.RescanInterval,
			HoldOpen:    wf.HoldOpen,
			Recovery:    recovery.DefaultPolicy().Pause,
			IdlePoll:    pc.IdlePoll,
		},
		Features: FeaturesConfig{
			AvoidShadowBan: tc.Enabled,
			SleepNight:     true,
			MaxErrors:      wf.MaxErrors,
			MaxEscalations: tc.MaxEscalations,
			MaxInferences:  recovery.DefaultPolicy().MaxInferences,
		},
		Concurrency: ConcurrencyConfig{
			Enabled:      pc.Concurrent,
			Workers:      pc.Workers,
			MaxPreserved: pc.MaxPreserved,
			QuietFrom:    pc.QuietHours.From,
			QuietTo:      pc.QuietHours.To,
		},
		Probe:      probe.DefaultConfig(),
		BookingAPI: BookingAPIConfig{Config: bc},
		Backends: BackendsConfig{
			Inbox:          InboxConfig{Retention: time.Hour},
			PollInterval:   rc.PollInterval,
			Freshness:      rc.Freshness,
			BackendTimeout: rc.BackendTimeout,
		},
		Alerts: wf.Templates,
	}
}

// Workflow returns the state machine settings.
func (c *AppConfig) Workflow() workflow.Config {
	return workflow.Config{
		BaseURL:        c.Site.URL,
		Region:         c.Site.Region,
		Contact:        c.Contact,
		Rescan:         c.Features.Rescan,
		RescanInterval: c.Waits.Rescan,
		CodeTimeout:    c.Waits.CodeTimeout,
		HoldOpen:       c.Waits.HoldOpen,
		BookRemotely:   c.Features.BookRemotely && c.BookingAPI.Enabled,
		InstantCode:    c.Features.InstantCode && c.BookingAPI.Enabled,
		MaxErrors:      c.Features.MaxErrors,
		Templates:      c.Alerts,
	}
}

// Throttle returns the backoff schedule.
func (c *AppConfig) Throttle() throttle.Config {
	return throttle.Config{
		Enabled:        c.Features.AvoidShadowBan,
		BaseWait:       c.Waits.ShadowBan,
		StepWait:       c.Waits.ShadowStep,
		MaxEscalations: c.Features.MaxEscalations,
	}
}

// Recovery returns the error classifier policy.
func (c *AppConfig) Recovery() recovery.Policy {
	return recovery.Policy{
		Pause:           c.Waits.Recovery,
		PreserveOnCrash: c.Features.KeepResourceOnCrash,
		MaxInferences:   c.Features.MaxInferences,
	}
}

// Relay returns the code relay settings.
func (c *AppConfig) Relay() relay.Config {
	return relay.Config{
		PollInterval:   c.Backends.PollInterval,
		Freshness:      c.Backends.Freshness,
		BackendTimeout: c.Backends.BackendTimeout,
	}
}

// Pool returns the worker pool settings.
func (c *AppConfig) Pool() pool.Config {
	return pool.Config{
		Workers:      c.Concurrency.Workers,
		Concurrent:   c.Concurrency.Enabled,
		Stagger:      c.Waits.Concurrent,
		Pacing:       c.Waits.Locations,
		IdlePoll:     c.Waits.IdlePoll,
		KeepResource: c.Concurrency.KeepResource,
		MaxPreserved: c.Concurrency.MaxPreserved,
		QuietHours: pool.QuietHours{
			Enabled: c.Features.SleepNight,
			From:    c.Concurrency.QuietFrom,
			To:      c.Concurrency.QuietTo,
		},
	}
}

// Booking returns the REST client settings.
func (c *AppConfig) Booking() booking.Config {
	bc := c.BookingAPI.Config
	bc.ThrottleWait = c.Waits.APICalls
	return bc
}
