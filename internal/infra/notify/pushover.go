package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const pushoverAPI = "https://api.pushover.net"

// PushoverConfig configures the Pushover backend.
type PushoverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	UserKey  string `yaml:"user_key"`
	AppToken string `yaml:"app_token"`
	BaseURL  string `yaml:"base_url"`
}

// Pushover sends push notifications. It cannot read replies.
type Pushover struct {
	httpBackend
	cfg PushoverConfig
}

// NewPushover creates the Pushover backend. client may be nil.
func NewPushover(cfg PushoverConfig, client *http.Client) *Pushover {
	if cfg.BaseURL == "" {
		cfg.BaseURL = pushoverAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Pushover{httpBackend: newHTTPBackend(client), cfg: cfg}
}

func (p *Pushover) Name() string { return "pushover" }

func (p *Pushover) Send(ctx context.Context, message string) error {
	form := url.Values{
		"token":   {p.cfg.AppToken},
		"user":    {p.cfg.UserKey},
		"message": {message},
	}
	var resp struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	if err := p.postForm(ctx, p.cfg.BaseURL+"/1/messages.json", form, nil, &resp); err != nil {
		return err
	}
	if resp.Status != 1 {
		return fmt.Errorf("pushover: %s", strings.Join(resp.Errors, "; "))
	}
	return nil
}
