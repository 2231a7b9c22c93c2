package notify

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// GotifyConfig configures a self-hosted Gotify server.
type GotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	AppToken string `yaml:"app_token"`
	Priority int    `yaml:"priority"`
}

// Gotify pushes alerts to a Gotify application.
type Gotify struct {
	httpBackend
	cfg GotifyConfig
}

// NewGotify creates the Gotify backend. client may be nil.
func NewGotify(cfg GotifyConfig, client *http.Client) *Gotify {
	if cfg.Priority == 0 {
		cfg.Priority = 8
	}
	return &Gotify{httpBackend: newHTTPBackend(client), cfg: cfg}
}

func (g *Gotify) Name() string { return "gotify" }

func (g *Gotify) Send(ctx context.Context, message string) error {
	endpoint := strings.TrimRight(g.cfg.URL, "/") + "/message?token=" + url.QueryEscape(g.cfg.AppToken)
	payload := map[string]any{
		"title":    "slotwatcher",
		"message":  message,
		"priority": g.cfg.Priority,
	}
	return g.postJSON(ctx, endpoint, payload, nil)
}
