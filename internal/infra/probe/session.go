package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/slotwatcher/internal/workflow"
)

// signalXPaths detect page signals by text. A signal is present when the
// expression matches at least one element.
var signalXPaths = map[workflow.Signal]string{
	workflow.SignalWaitingRoom:      `//h1[normalize-space(text())="Virtueller Warteraum des Impfterminservice"]`,
	workflow.SignalNoVacancy:        `//div[contains(@class,"alert-danger") and contains(.,"keine freien Termine")]`,
	workflow.SignalLimitReached:     `//span[contains(text(),"Anfragelimit erreicht")]`,
	workflow.SignalLoading:          `//div[contains(text(),"Bitte warten, wir suchen")]`,
	workflow.SignalCodeInvalid:      `//div[contains(@class,"kv-alert-danger") and contains(.,"Ungültiger Vermittlungscode")]`,
	workflow.SignalCodeError:        `//div[contains(@class,"kv-alert-danger") and contains(.,"unerwarteter Fehler")]`,
	workflow.SignalCodeUsed:         `//div[contains(@class,"alert-danger") and contains(.,"bereits") and contains(.,"gebucht")]`,
	workflow.SignalClaimExpired:     `//div[contains(@class,"alert-danger") and contains(.,"abgelaufen")]`,
	workflow.SignalNoSlots:          `//span[contains(@class,"text-pre-wrap") and contains(text(),"Fehler")] | //*[contains(text(),"keine Termine")]`,
	workflow.SignalBookingConfirmed: `//*[contains(text(),"erfolgreich gebucht")]`,
}

// throttleScript reports whether a resource loaded by the page answered 429.
const throttleScript = `return performance.getEntriesByType("resource").some(function (e) { return e.responseStatus === 429; });`

// Session is one browser session. It implements workflow.Probe.
type Session struct {
	wire
	id      string
	timeout time.Duration
	log     *slog.Logger
}

var _ workflow.Probe = (*Session)(nil)

// Open starts a new browser session.
func Open(ctx context.Context, cfg Config, client *http.Client) (*Session, error) {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	w := wire{base: cfg.URL, client: client}

	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := w.command(ctx, http.MethodPost, "/session", cfg.capabilities(), &created); err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	if created.SessionID == "" {
		return nil, fmt.Errorf("open browser session: no session id")
	}

	s := &Session{
		wire:    w,
		id:      created.SessionID,
		timeout: cfg.Timeout,
		log:     slog.Default().With("component", "probe", "session", created.SessionID),
	}
	timeouts := map[string]int64{"implicit": cfg.ImplicitWait.Milliseconds()}
	if err := s.command(ctx, http.MethodPost, s.path("/timeouts"), timeouts, nil); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("set implicit wait: %w", err)
	}
	s.log.Debug("Browser session opened")
	return s, nil
}

// Factory returns a workflow.ProbeFactory that opens a session per call.
func Factory(cfg Config, client *http.Client) workflow.ProbeFactory {
	return func(ctx context.Context) (workflow.Probe, error) {
		return Open(ctx, cfg, client)
	}
}

func (s *Session) path(suffix string) string {
	return "/session/" + s.id + suffix
}

func (s *Session) NavigateTo(ctx context.Context, url string) error {
	return s.command(ctx, http.MethodPost, s.path("/url"), map[string]string{"url": url}, nil)
}

// CurrentPageIdentity returns the text of the page heading, empty when the
// page has none.
func (s *Session) CurrentPageIdentity(ctx context.Context) (string, error) {
	el, found, err := s.Locate(ctx, "//h1")
	if err != nil || !found {
		return "", err
	}
	text, err := s.Text(ctx, el)
	return strings.TrimSpace(text), err
}

func (s *Session) Locate(ctx context.Context, selector string) (workflow.Element, bool, error) {
	var ref map[string]string
	err := s.command(ctx, http.MethodPost, s.path("/element"), xpath(selector), &ref)
	if isNoSuchElement(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return workflow.Element(ref[elementKey]), true, nil
}

func (s *Session) LocateAll(ctx context.Context, selector string) ([]workflow.Element, error) {
	var refs []map[string]string
	if err := s.command(ctx, http.MethodPost, s.path("/elements"), xpath(selector), &refs); err != nil {
		return nil, err
	}
	out := make([]workflow.Element, 0, len(refs))
	for _, ref := range refs {
		out = append(out, workflow.Element(ref[elementKey]))
	}
	return out, nil
}

func (s *Session) Text(ctx context.Context, el workflow.Element) (string, error) {
	var text string
	err := s.command(ctx, http.MethodGet, s.path("/element/"+string(el)+"/text"), nil, &text)
	return text, err
}

func (s *Session) Click(ctx context.Context, el workflow.Element) error {
	return s.command(ctx, http.MethodPost, s.path("/element/"+string(el)+"/click"), struct{}{}, nil)
}

func (s *Session) Type(ctx context.Context, el workflow.Element, text string) error {
	return s.command(ctx, http.MethodPost, s.path("/element/"+string(el)+"/value"), map[string]string{"text": text}, nil)
}

// HasSignal answers throttling from the page's resource timings and every
// other signal from the text shown.
func (s *Session) HasSignal(ctx context.Context, kind workflow.Signal) (bool, error) {
	if kind == workflow.SignalThrottled {
		var throttled bool
		payload := map[string]any{"script": throttleScript, "args": []any{}}
		err := s.command(ctx, http.MethodPost, s.path("/execute/sync"), payload, &throttled)
		return throttled, err
	}

	expr, ok := signalXPaths[kind]
	if !ok {
		return false, fmt.Errorf("unknown signal %q", kind)
	}
	els, err := s.LocateAll(ctx, expr)
	if err != nil {
		return false, err
	}
	return len(els) > 0, nil
}

// Close ends the browser session.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.command(ctx, http.MethodDelete, s.path(""), nil, nil)
	if err != nil {
		s.log.Debug("Failed to close browser session", "error", err)
	}
	return err
}

func xpath(selector string) map[string]string {
	return map[string]string{"using": "xpath", "value": selector}
}
