package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/slotwatcher/internal/relay"
)

var (
	_ relay.Poller = (*Telegram)(nil)
	_ relay.Poller = (*Zulip)(nil)
)

// =============================================================================
// Telegram
// =============================================================================

func TestTelegram_Send(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{APIToken: "TOKEN", ChatID: "42", BaseURL: server.URL}, server.Client())
	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "hello" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestTelegram_SendNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{APIToken: "TOKEN", ChatID: "42", BaseURL: server.URL}, server.Client())
	err := tg.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected description in error, got %v", err)
	}
}

func TestTelegram_Poll(t *testing.T) {
	since := time.Unix(1621500000, 0)
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset != "" {
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":10,"message":{"date":1621499000,"text":"sms:000-000","chat":{"id":42}}},
			{"update_id":11,"message":{"date":1621500060,"text":"sms:123-456","chat":{"id":42}}},
			{"update_id":12,"message":{"date":1621500070,"text":"sms:999-999","chat":{"id":7}}}
		]}`))
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{APIToken: "TOKEN", ChatID: "42", BaseURL: server.URL}, server.Client())
	msgs, err := tg.Poll(context.Background(), since)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "sms:123-456" {
		t.Fatalf("expected only the fresh message of the chat, got %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(time.Unix(1621500060, 0)) {
		t.Errorf("unexpected timestamp %v", msgs[0].Timestamp)
	}

	msgs, err = tg.Poll(context.Background(), since)
	if err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if offsets[1] != "13" {
		t.Errorf("expected every fetched update acknowledged, offsets %v", offsets)
	}
	if len(msgs) != 1 || msgs[0].Content != "sms:123-456" {
		t.Errorf("acknowledged chat message should still be returned, got %+v", msgs)
	}

	msgs, err = tg.Poll(context.Background(), time.Unix(1621500100, 0))
	if err != nil {
		t.Fatalf("third Poll failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages older than since to be dropped, got %+v", msgs)
	}
}

// =============================================================================
// Zulip
// =============================================================================

func TestZulip_SendStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != "bot@example.org" || key != "secret" {
			t.Errorf("missing basic auth")
		}
		_ = r.ParseForm()
		if r.Form.Get("type") != "stream" || r.Form.Get("to") != "hunter" || r.Form.Get("topic") != "General" {
			t.Errorf("unexpected form %v", r.Form)
		}
		_, _ = w.Write([]byte(`{"result":"success"}`))
	}))
	defer server.Close()

	z := NewZulip(ZulipConfig{URL: server.URL + "/", Mail: "bot@example.org", Key: "secret", Target: "hunter"}, server.Client())
	if err := z.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestZulip_Poll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("anchor") != "newest" || !strings.Contains(q.Get("narrow"), `"operand":"hunter"`) {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{"result":"success","messages":[
			{"content":"old","timestamp":1621499000},
			{"content":" appt:2 ","timestamp":1621500100}
		]}`))
	}))
	defer server.Close()

	z := NewZulip(ZulipConfig{URL: server.URL, Target: "hunter"}, server.Client())
	msgs, err := z.Poll(context.Background(), time.Unix(1621500000, 0))
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "appt:2" || msgs[0].Backend != "zulip" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestZulip_ErrorResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"error","msg":"Invalid API key"}`))
	}))
	defer server.Close()

	z := NewZulip(ZulipConfig{URL: server.URL, Target: "hunter"}, server.Client())
	if _, err := z.Poll(context.Background(), time.Time{}); err == nil {
		t.Error("expected error result to fail the poll")
	}
}

// =============================================================================
// Send-only backends
// =============================================================================

func TestSendOnlyBackends(t *testing.T) {
	var requests []*http.Request
	var payloads []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			var m map[string]any
			_ = json.NewDecoder(r.Body).Decode(&m)
			text, _ := m["text"].(string)
			msg, _ := m["message"].(string)
			payloads = append(payloads, text+msg)
		} else {
			_ = r.ParseForm()
			payloads = append(payloads, r.Form.Get("message"))
		}
		requests = append(requests, r)
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	defer server.Close()

	backends := []relay.Notifier{
		NewSlack(SlackConfig{WebhookURL: server.URL + "/hook"}, server.Client()),
		NewGotify(GotifyConfig{URL: server.URL, AppToken: "app"}, server.Client()),
		NewPushover(PushoverConfig{UserKey: "u", AppToken: "a", BaseURL: server.URL}, server.Client()),
	}
	for _, b := range backends {
		if _, ok := b.(relay.Poller); ok {
			t.Errorf("%s must not poll", b.Name())
		}
		if err := b.Send(context.Background(), "alert"); err != nil {
			t.Errorf("%s Send failed: %v", b.Name(), err)
		}
	}

	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}
	if requests[0].URL.Path != "/hook" {
		t.Errorf("slack path %s", requests[0].URL.Path)
	}
	if requests[1].URL.Path != "/message" || requests[1].URL.Query().Get("token") != "app" {
		t.Errorf("gotify url %s", requests[1].URL)
	}
	if requests[2].URL.Path != "/1/messages.json" {
		t.Errorf("pushover path %s", requests[2].URL.Path)
	}
	for i, p := range payloads {
		if p != "alert" {
			t.Errorf("request %d carried %q", i, p)
		}
	}
}

func TestSlack_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlack(SlackConfig{WebhookURL: server.URL}, server.Client()).Send(context.Background(), "x")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusForbidden {
		t.Errorf("expected StatusError 403, got %v", err)
	}
}

func TestPushover_RejectedMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":0,"errors":["user key is invalid"]}`))
	}))
	defer server.Close()

	p := NewPushover(PushoverConfig{BaseURL: server.URL}, server.Client())
	if err := p.Send(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "user key") {
		t.Errorf("expected rejection error, got %v", err)
	}
}

// =============================================================================
// Command
// =============================================================================

func TestCommand_Fallbacks(t *testing.T) {
	tests := []struct {
		goos string
		line string
		name string
		want string
	}{
		{goos: "linux", name: "sh", want: "espeak"},
		{goos: "darwin", name: "sh", want: "say"},
		{goos: "windows", name: "cmd", want: "PowerShell"},
		{goos: "linux", line: "notify-send found", name: "sh", want: "notify-send"},
	}
	for _, tt := range tests {
		c := NewCommand(tt.line)
		c.goos = tt.goos
		name, args := c.invocation()
		if name != tt.name || !strings.Contains(args[len(args)-1], tt.want) {
			t.Errorf("%s: got %s %v", tt.goos, name, args)
		}
	}
}

func TestCommand_FailureIsNotReported(t *testing.T) {
	c := NewCommand("false")
	calls := 0
	c.run = func(ctx context.Context, name string, args ...string) error {
		calls++
		return errors.New("exit status 1")
	}
	if err := c.Send(context.Background(), "alert"); err != nil {
		t.Errorf("command failures must stay silent, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestBuild_Order(t *testing.T) {
	cfg := Config{
		Command:  CommandConfig{Enabled: true},
		Zulip:    ZulipConfig{Enabled: true},
		Telegram: TelegramConfig{Enabled: true},
		Gotify:   GotifyConfig{Enabled: true},
	}
	var names []string
	for _, b := range Build(cfg, nil) {
		names = append(names, b.Name())
	}
	if strings.Join(names, ",") != "command,zulip,telegram,gotify" {
		t.Errorf("unexpected order %v", names)
	}
}
