// Package browser owns the remote browser-automation session used to reach
// the target application from behind its interstitial screens.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// UserAgent is the identification string presented to the target site. It
// must look like a mainstream desktop browser or the interstitial
// verification never clears.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	navigationTimeout   = 90 * time.Second
	settleDelay         = 5 * time.Second
	verificationRounds  = 45
	verificationPoll    = 1500 * time.Millisecond
	dialogRounds        = 8
	dialogClickPause    = 400 * time.Millisecond
	dialogRoundPause    = 600 * time.Millisecond
	shellMountWait      = 8 * time.Second
	contentMountWait    = 2500 * time.Millisecond
	livenessCheckBudget = 5 * time.Second
)

// Config controls the session manager.
type Config struct {
	WSEndpoint string
	TargetURL  string
}

// Manager owns at most one live session at a time. Sessions are created
// lazily, torn down on detected disconnection, and never shared across
// concurrent cycles.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
}

// Session wraps one remote browser connection and one open page.
type Session struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewManager creates a Manager. No connection is made until EnsureConnected.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// EnsureConnected returns the existing session when it is still live, and
// otherwise tears it down and establishes a fresh one: connect, open a
// page, navigate, wait out verification, dismiss the language and terms
// dialogs, and wait for the application shell. Any failure propagates to
// the caller, which must treat the whole cycle as failed.
func (m *Manager) EnsureConnected(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.alive() {
		return m.session, nil
	}
	m.closeLocked()

	session, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	m.session = session
	return session, nil
}

// Close tears down the active session, if any. Safe to call repeatedly.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.session == nil {
		return
	}
	m.session.tabCancel()
	m.session.allocCancel()
	m.session = nil
}

func (m *Manager) connect(ctx context.Context) (*Session, error) {
	// The session lives on its own context so it survives across cycles;
	// the caller's ctx only bounds this connection attempt.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), m.cfg.WSEndpoint)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	session := &Session{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	if err := session.open(ctx, m.cfg.TargetURL, m.logger); err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}
	return session, nil
}

func (s *Session) open(ctx context.Context, targetURL string, logger *zap.Logger) error {
	navCtx, cancel := context.WithTimeout(s.tabCtx, navigationTimeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if err := emulation.SetDeviceMetricsOverride(1440, 900, 1, false).Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
			if err := emulation.SetUserAgentOverride(UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			headers := network.Headers{"accept-language": "en-US,en;q=0.9"}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(targetURL),
		chromedp.Sleep(settleDelay),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", targetURL, err)
	}

	if err := s.waitForVerification(ctx); err != nil {
		return fmt.Errorf("verification wait: %w", err)
	}
	s.waitForCondition(ctx, shellMountScript, shellMountWait)
	if err := s.settleDialogs(ctx, logger); err != nil {
		return fmt.Errorf("settle dialogs: %w", err)
	}
	s.waitForCondition(ctx, contentMountScript, contentMountWait)
	return nil
}

const verificationScript = `(() => {
  const phrases = [
    "Verifying...",
    "Checking your browser",
    "Verify you are human",
    "Completing security check",
    "Just a moment",
  ];
  const bodyText = document.body ? document.body.innerText : "";
  return phrases.some((phrase) => bodyText.includes(phrase));
})()`

const shellMountScript = `(() => {
  if (document.querySelector("app-root")) return true;
  const bodyText = document.body ? document.body.innerText : "";
  return bodyText.includes("People Over Papers");
})()`

const contentMountScript = `!!document.querySelector(".mat-mdc-tab-body-content")`

const pendingDialogScript = `(() => {
  const bodyText = (document.body ? document.body.innerText : "").toLowerCase();
  return bodyText.includes("terms of service") || bodyText.includes("select language");
})()`

// waitForVerification polls the page until the interstitial verification
// text clears or the round budget runs out. An evaluation error ends the
// wait; the subsequent steps will surface a real failure if the page is
// actually broken.
func (s *Session) waitForVerification(ctx context.Context) error {
	for i := 0; i < verificationRounds; i++ {
		verifying, err := s.evalBool(verificationScript)
		if err != nil || !verifying {
			return nil
		}
		if err := sleepCtx(ctx, verificationPoll); err != nil {
			return err
		}
	}
	return nil
}

// settleDialogs clicks through the language-selection and terms-acceptance
// dialogs, stopping early once neither dialog's marker text remains.
func (s *Session) settleDialogs(ctx context.Context, logger *zap.Logger) error {
	for attempt := 0; attempt < dialogRounds; attempt++ {
		clickedLanguage := s.clickButtonByText(ctx, "english")
		clickedTerms := s.clickButtonByText(ctx, "i agree")
		if clickedLanguage || clickedTerms {
			logger.Debug("dialog clicked",
				zap.Bool("language", clickedLanguage),
				zap.Bool("terms", clickedTerms),
			)
		}

		if !clickedLanguage && !clickedTerms {
			pending, err := s.evalBool(pendingDialogScript)
			if err != nil || !pending {
				return nil
			}
		}
		if err := sleepCtx(ctx, dialogRoundPause); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) clickButtonByText(ctx context.Context, matcher string) bool {
	script := fmt.Sprintf(`(() => {
  const regex = new RegExp(%q, "i");
  const candidates = Array.from(document.querySelectorAll("button,[role='button']"));
  for (const candidate of candidates) {
    if (candidate.disabled) continue;
    const label = (candidate.textContent || "").trim();
    if (!regex.test(label)) continue;
    const rect = candidate.getBoundingClientRect();
    if (rect.width <= 0 || rect.height <= 0) continue;
    candidate.click();
    return true;
  }
  return false;
})()`, regexp.QuoteMeta(matcher))

	clicked, err := s.evalBool(script)
	if err != nil || !clicked {
		return false
	}
	_ = sleepCtx(ctx, dialogClickPause)
	return true
}

// waitForCondition polls the script until it reports true or the budget
// elapses. Best effort only; a slow mount is not a connection failure.
func (s *Session) waitForCondition(ctx context.Context, script string, budget time.Duration) {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		ok, err := s.evalBool(script)
		if err != nil || ok {
			return
		}
		if sleepCtx(ctx, 500*time.Millisecond) != nil {
			return
		}
	}
}

func (s *Session) evalBool(script string) (bool, error) {
	evalCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()

	var result bool
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &result)); err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	return result, nil
}

// alive reports whether the remote endpoint still answers for this page.
func (s *Session) alive() bool {
	if s.tabCtx.Err() != nil {
		return false
	}
	evalCtx, cancel := context.WithTimeout(s.tabCtx, livenessCheckBudget)
	defer cancel()

	var ready bool
	err := chromedp.Run(evalCtx, chromedp.Evaluate(`document.readyState !== "loading"`, &ready))
	return err == nil
}

// Cookies returns the session's cookies for reuse by the host-side app
// client. Only name and value survive the translation; the client scopes
// them to the target origin itself.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	evalCtx, cancel := context.WithTimeout(s.tabCtx, 15*time.Second)
	defer cancel()

	var out []*http.Cookie
	err := chromedp.Run(evalCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		for _, c := range cookies {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
