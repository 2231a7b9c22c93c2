package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// ZulipConfig configures the Zulip bot backend.
type ZulipConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Mail    string `yaml:"mail"`
	Key     string `yaml:"key"`
	Type    string `yaml:"type"` // stream or private
	Target  string `yaml:"target"`
	Topic   string `yaml:"topic"`
}

// Zulip sends to a stream topic or private conversation and reads the
// latest messages of the same conversation.
type Zulip struct {
	httpBackend
	cfg ZulipConfig
}

// NewZulip creates the Zulip backend. client may be nil.
func NewZulip(cfg ZulipConfig, client *http.Client) *Zulip {
	if cfg.Type == "" {
		cfg.Type = "stream"
	}
	if cfg.Topic == "" {
		cfg.Topic = "General"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Zulip{httpBackend: newHTTPBackend(client), cfg: cfg}
}

func (z *Zulip) Name() string { return "zulip" }

func (z *Zulip) auth(req *http.Request) {
	req.SetBasicAuth(z.cfg.Mail, z.cfg.Key)
}

type zulipResponse struct {
	Result   string `json:"result"`
	Msg      string `json:"msg"`
	Messages []struct {
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	} `json:"messages"`
}

func (z *Zulip) Send(ctx context.Context, message string) error {
	form := url.Values{
		"type":    {z.cfg.Type},
		"to":      {z.cfg.Target},
		"content": {message},
	}
	if z.cfg.Type == "stream" {
		form.Set("topic", z.cfg.Topic)
	}
	var resp zulipResponse
	if err := z.postForm(ctx, z.cfg.URL+"/api/v1/messages", form, z.auth, &resp); err != nil {
		return err
	}
	if resp.Result != "success" {
		return fmt.Errorf("zulip: %s", resp.Msg)
	}
	return nil
}

// narrow selects the conversation alerts are sent to.
func (z *Zulip) narrow() string {
	type term struct {
		Operator string `json:"operator"`
		Operand  string `json:"operand"`
	}
	terms := []term{{Operator: "pm-with", Operand: z.cfg.Target}}
	if z.cfg.Type == "stream" {
		terms = []term{
			{Operator: "stream", Operand: z.cfg.Target},
			{Operator: "topic", Operand: z.cfg.Topic},
		}
	}
	data, _ := json.Marshal(terms)
	return string(data)
}

// Poll reads the newest messages of the conversation sent after since.
func (z *Zulip) Poll(ctx context.Context, since time.Time) ([]domain.Message, error) {
	q := url.Values{
		"anchor":         {"newest"},
		"num_before":     {"5"},
		"num_after":      {"5"},
		"apply_markdown": {"false"},
		"narrow":         {z.narrow()},
	}
	var resp zulipResponse
	if err := z.getJSON(ctx, z.cfg.URL+"/api/v1/messages?"+q.Encode(), z.auth, &resp); err != nil {
		return nil, err
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("zulip: %s", resp.Msg)
	}

	msgs := make([]domain.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ts := time.Unix(m.Timestamp, 0)
		if ts.Before(since) {
			continue
		}
		msgs = append(msgs, domain.Message{Content: strings.TrimSpace(m.Content), Timestamp: ts, Backend: z.Name()})
	}
	return msgs, nil
}
