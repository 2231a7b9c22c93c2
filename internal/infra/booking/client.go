// Package booking is the REST client of the appointment service. It covers
// the same operations as the page flow: claiming a code by SMS, listing slot
// pairs and booking one of them.
package booking

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/slotwatcher/internal/core/domain"
	"github.com/vietddude/slotwatcher/internal/metrics"
	"github.com/vietddude/slotwatcher/internal/workflow"
)

const (
	// featureCode selects the mRNA vaccines when claiming a code.
	featureCode = "L921"

	statusAlreadyBooked = 481
	limitMarker         = "Anfragelimit erreicht"
)

// Config holds the REST client settings.
type Config struct {
	Host      string        `yaml:"host"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	// ThrottleWait is the pause after a 429 before the call is repeated.
	ThrottleWait time.Duration `yaml:"throttle_wait"`
	MaxRetries   uint64        `yaml:"max_retries"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "https://001-iz.impfterminservice.de",
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.212 Safari/537.36",
		Timeout:      30 * time.Second,
		ThrottleWait: time.Minute,
		MaxRetries:   2,
	}
}

// StatusError is returned for responses the client cannot interpret. It
// usually means the session cookies expired.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("booking api: http %d: %s", e.Code, e.Body)
}

// ErrNoToken is returned when a code request was accepted without a token.
var ErrNoToken = errors.New("booking api: no token in response")

// Client implements workflow.BookingAPI.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu         sync.Mutex
	qualifiers map[string][]string // postal code -> features of the last search
}

var _ workflow.BookingAPI = (*Client)(nil)

// NewClient creates a client. A nil http client gets a default one; pass a
// client with a cookie jar to reuse the cookies of a page session.
func NewClient(cfg Config, client *http.Client) *Client {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ThrottleWait <= 0 {
		cfg.ThrottleWait = def.ThrottleWait
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		cfg:        cfg,
		http:       client,
		log:        slog.Default().With("component", "booking-api"),
		qualifiers: make(map[string][]string),
	}
}

type response struct {
	status int
	body   []byte
}

// call sends one request. A 429 is retried after ThrottleWait up to
// MaxRetries times; a request limit answer maps to workflow.ErrLimitReached.
func (c *Client) call(ctx context.Context, op, method, path string, loc domain.Location, payload any) (response, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return response{}, fmt.Errorf("marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewConstant(c.cfg.ThrottleWait))

	var out response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		resp, err := c.do(ctx, method, path, loc, data)
		metrics.BookingAPILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if resp.status == http.StatusTooManyRequests {
			c.log.Warn("Too many requests, waiting before trying again", "operation", op,
				"wait", c.cfg.ThrottleWait)
			return retry.RetryableError(&StatusError{Code: resp.status, Body: string(resp.body)})
		}
		out = resp
		return nil
	})
	if err != nil {
		return response{}, err
	}

	if out.status >= 400 && bytes.Contains(out.body, []byte(limitMarker)) {
		return out, workflow.ErrLimitReached
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, loc domain.Location, data []byte) (response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path, body)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if loc.HasCode() {
		c.authorize(req, loc)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("booking api call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	return response{status: resp.StatusCode, body: raw}, nil
}

// authorize sets the code based credentials of a location.
func (c *Client) authorize(req *http.Request, loc domain.Location) {
	token := base64.StdEncoding.EncodeToString([]byte(":" + loc.Code))
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Referer", fmt.Sprintf("%s/impftermine/suche/%s/%s", c.cfg.Host, loc.Code, loc.PostalCode()))
}

// RequestCode asks the service to send an SMS pin for a new code and
// returns the claim token.
func (c *Client) RequestCode(ctx context.Context, contact domain.Contact, loc domain.Location) (string, error) {
	payload := map[string]string{
		"email":            contact.Mail,
		"leistungsmerkmal": featureCode,
		"phone":            "+49" + contact.Phone,
		"plz":              loc.PostalCode(),
	}
	resp, err := c.call(ctx, "request_code", http.MethodPost, "/rest/smspin/anforderung", loc, payload)
	if err != nil {
		return "", err
	}
	if resp.status >= 300 {
		return "", &StatusError{Code: resp.status, Body: string(resp.body)}
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if parsed.Token == "" {
		c.log.Error("Code request returned no token", "status", resp.status, "body", string(resp.body))
		return "", ErrNoToken
	}
	return parsed.Token, nil
}

// VerifyCode submits the SMS pin for a claim token.
func (c *Client) VerifyCode(ctx context.Context, token, pin string) (bool, error) {
	payload := map[string]string{"token": token, "smspin": pin}
	resp, err := c.call(ctx, "verify_code", http.MethodPost, "/rest/smspin/verifikation", domain.Location{}, payload)
	if err != nil {
		return false, err
	}
	return resp.status == http.StatusOK, nil
}

type slotWire struct {
	ID    string `json:"slotId"`
	Begin int64  `json:"begin"` // unix millis
	Site  string `json:"bsnr"`
}

func (s slotWire) slot() domain.Slot {
	return domain.Slot{ID: s.ID, Begin: time.UnixMilli(s.Begin), Site: s.Site}
}

type searchResult struct {
	Pairs      [][]slotWire `json:"termine"`
	Qualifiers []string     `json:"gesuchteLeistungsmerkmale"`
}

// ListSlots returns the slot pairs offered for a location.
func (c *Client) ListSlots(ctx context.Context, loc domain.Location) ([]domain.SlotPair, error) {
	path := "/rest/suche/impfterminsuche?" + url.Values{"plz": {loc.PostalCode()}}.Encode()
	resp, err := c.call(ctx, "list_slots", http.MethodGet, path, loc, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &StatusError{Code: resp.status, Body: string(resp.body)}
	}

	var result searchResult
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, fmt.Errorf("parse slots: %w", err)
	}

	c.mu.Lock()
	c.qualifiers[loc.PostalCode()] = result.Qualifiers
	c.mu.Unlock()

	pairs := make([]domain.SlotPair, 0, len(result.Pairs))
	for i, p := range result.Pairs {
		if len(p) < 2 {
			continue
		}
		pairs = append(pairs, domain.SlotPair{Index: i + 1, First: p[0].slot(), Second: p[1].slot()})
	}
	return pairs, nil
}

// Book books a slot pair for the contact.
func (c *Client) Book(ctx context.Context, loc domain.Location, pair domain.SlotPair, contact domain.Contact) (workflow.BookResult, error) {
	c.mu.Lock()
	qualifiers := c.qualifiers[loc.PostalCode()]
	c.mu.Unlock()
	if len(qualifiers) == 0 {
		qualifiers = []string{featureCode}
	}

	payload := map[string]any{
		"slots":           []string{pair.First.ID, pair.Second.ID},
		"qualifikationen": qualifiers,
		"plz":             loc.PostalCode(),
		"contact": map[string]string{
			"anrede":               contact.Salutation,
			"vorname":              contact.FirstName,
			"nachname":             contact.LastName,
			"strasse":              contact.Street,
			"hausnummer":           contact.HouseNumber,
			"plz":                  contact.ZipCode,
			"ort":                  contact.City,
			"phone":                "+49 " + contact.Phone,
			"notificationReceiver": contact.Mail,
			"notificationChannel":  "email",
		},
	}
	resp, err := c.call(ctx, "book", http.MethodPost, "/rest/buchung", loc, payload)
	if err != nil {
		return workflow.BookSuccess, err
	}

	c.log.Info("Booking answered", "location", loc.PostalCode(), "status", resp.status, "body", string(resp.body))
	switch resp.status {
	case http.StatusCreated:
		return workflow.BookSuccess, nil
	case statusAlreadyBooked:
		return workflow.BookAlreadyBooked, nil
	default:
		return workflow.BookSuccess, &StatusError{Code: resp.status, Body: string(resp.body)}
	}
}
