// Package probe drives a browser through the W3C WebDriver protocol and
// answers the workflow's questions about the page shown.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// elementKey is the W3C web element identifier.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// Error codes of the WebDriver protocol the probe reacts to.
const (
	errNoSuchElement  = "no such element"
	errStaleElement   = "stale element reference"
	errNoSuchWindow   = "no such window"
	errInvalidSession = "invalid session id"
)

// DriverError is an error answered by the WebDriver endpoint.
type DriverError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("webdriver %d: %s: %s", e.Status, e.Code, e.Message)
}

// stale reports whether the error means the page or session is gone.
func (e *DriverError) stale() bool {
	switch e.Code {
	case errStaleElement, errNoSuchWindow, errInvalidSession:
		return true
	}
	return false
}

// wire sends WebDriver commands to one endpoint.
type wire struct {
	base   string
	client *http.Client
}

// command sends one command and decodes the "value" member into out.
func (w wire) command(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal command: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webdriver call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		derr := &DriverError{Status: resp.StatusCode}
		_ = json.Unmarshal(envelope.Value, derr)
		if derr.stale() {
			return fmt.Errorf("%w: %v", domain.ErrStaleReference, derr)
		}
		return derr
	}
	if out == nil || len(envelope.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Value, out); err != nil {
		return fmt.Errorf("parse value: %w", err)
	}
	return nil
}

func isNoSuchElement(err error) bool {
	var derr *DriverError
	return errors.As(err, &derr) && derr.Code == errNoSuchElement
}

// Config holds the browser settings.
type Config struct {
	// URL of the WebDriver endpoint, e.g. a local chromedriver.
	URL          string        `yaml:"url"`
	Browser      string        `yaml:"browser"`
	Headless     bool          `yaml:"headless"`
	UserAgent    string        `yaml:"user_agent"`
	Args         []string      `yaml:"args"`
	ImplicitWait time.Duration `yaml:"implicit_wait"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the browser defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "http://localhost:9515",
		Browser:      "chrome",
		ImplicitWait: 2500 * time.Millisecond,
		Timeout:      60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.Browser == "" {
		c.Browser = def.Browser
	}
	if c.ImplicitWait <= 0 {
		c.ImplicitWait = def.ImplicitWait
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

func (c Config) capabilities() map[string]any {
	args := append([]string(nil), c.Args...)
	if c.Headless {
		args = append(args, "--headless=new")
	}
	if c.UserAgent != "" {
		args = append(args, "user-agent="+c.UserAgent)
	}
	always := map[string]any{"browserName": c.Browser}
	if len(args) > 0 {
		always["goog:chromeOptions"] = map[string]any{"args": args}
	}
	return map[string]any{"capabilities": map[string]any{"alwaysMatch": always}}
}
