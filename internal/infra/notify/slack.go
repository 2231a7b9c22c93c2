package notify

import (
	"context"
	"net/http"
)

// SlackConfig configures the Slack incoming webhook backend.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// Slack posts alerts to an incoming webhook. It cannot read replies.
type Slack struct {
	httpBackend
	cfg SlackConfig
}

// NewSlack creates the Slack backend. client may be nil.
func NewSlack(cfg SlackConfig, client *http.Client) *Slack {
	return &Slack{httpBackend: newHTTPBackend(client), cfg: cfg}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, message string) error {
	return s.postJSON(ctx, s.cfg.WebhookURL, map[string]string{"text": message}, nil)
}
