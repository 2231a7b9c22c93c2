package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig configures the Telegram bot backend.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIToken string `yaml:"api_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// Telegram sends to a chat and reads the chat's replies via getUpdates.
type Telegram struct {
	httpBackend
	cfg TelegramConfig

	mu     sync.Mutex
	offset int64
	// acknowledged chat messages, kept until they fall behind since
	recent []domain.Message
}

// NewTelegram creates the Telegram backend. client may be nil.
func NewTelegram(cfg TelegramConfig, client *http.Client) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Telegram{httpBackend: newHTTPBackend(client), cfg: cfg}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.cfg.BaseURL, t.cfg.APIToken, method)
}

type telegramResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64  `json:"date"`
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// Send posts message to the configured chat.
func (t *Telegram) Send(ctx context.Context, message string) error {
	var resp telegramResponse[any]
	payload := map[string]string{"chat_id": t.cfg.ChatID, "text": message}
	if err := t.postJSON(ctx, t.endpoint("sendMessage"), payload, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("telegram: %s", resp.Description)
	}
	return nil
}

// Poll returns chat messages sent after since. Every fetched update is
// acknowledged; chat messages are kept locally so later polls still see them.
func (t *Telegram) Poll(ctx context.Context, since time.Time) ([]domain.Message, error) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	endpoint := t.endpoint("getUpdates") + "?allowed_updates=%5B%22message%22%5D"
	if offset > 0 {
		endpoint += "&offset=" + strconv.FormatInt(offset, 10)
	}

	var resp telegramResponse[[]telegramUpdate]
	if err := t.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram: %s", resp.Description)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ack := t.offset
	for _, u := range resp.Result {
		if u.UpdateID < t.offset {
			continue // seen by a concurrent poll
		}
		ack = max(ack, u.UpdateID+1)
		if u.Message == nil || strconv.FormatInt(u.Message.Chat.ID, 10) != t.cfg.ChatID {
			continue
		}
		t.recent = append(t.recent, domain.Message{
			Content:   u.Message.Text,
			Timestamp: time.Unix(u.Message.Date, 0),
			Backend:   t.Name(),
		})
	}
	t.offset = ack

	kept := t.recent[:0]
	var msgs []domain.Message
	for _, m := range t.recent {
		if m.Timestamp.Before(since) {
			continue
		}
		kept = append(kept, m)
		msgs = append(msgs, m)
	}
	t.recent = kept
	return msgs, nil
}
