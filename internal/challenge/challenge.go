// Package challenge detects anti-bot interstitials and makes a best-effort
// attempt to clear them.
package challenge

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/browser"
)

// Outcome of one Handle call.
type Outcome int

const (
	NotPresent Outcome = iota
	Resolved
	Unresolved
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Unresolved:
		return "unresolved"
	default:
		return "not-present"
	}
}

// Signatures are matched case-insensitively against page source, title and URL.
var Signatures = []string{
	"just a moment",
	"checking your browser",
	"cf-browser-verification",
	"challenge-platform",
	"verify you are human",
	"captcha",
	"turnstile",
	"ddos protection",
	"attention required",
}

// Selectors mark challenge DOM that may appear without a text signature.
var Selectors = []string{
	"iframe[src*='challenges.cloudflare.com']",
	"#challenge-form",
	"#cf-challenge-running",
	".cf-turnstile",
	"iframe[title*='challenge']",
	"#turnstile-wrapper",
}

// Strategy is one resolution attempt. Try must return Resolved only after
// verifying the challenge cleared.
type Strategy struct {
	Name    string
	Timeout time.Duration
	Try     func(ctx context.Context, page browser.Page) Outcome
}

// Handler runs detection and then each strategy in order.
type Handler struct {
	log        *zap.SugaredLogger
	strategies []Strategy
}

// New returns a handler using the default strategy list.
func New(log *zap.SugaredLogger, pacer browser.Pacer) *Handler {
	return NewWithStrategies(log, DefaultStrategies(pacer))
}

// NewWithStrategies returns a handler with a custom ordered strategy list.
func NewWithStrategies(log *zap.SugaredLogger, strategies []Strategy) *Handler {
	return &Handler{log: log, strategies: strategies}
}

// Detect reports whether the page shows a challenge.
func Detect(ctx context.Context, page browser.Page) bool {
	var parts []string
	if src, err := page.Source(ctx); err == nil {
		parts = append(parts, src)
	}
	if title, err := page.Title(ctx); err == nil {
		parts = append(parts, title)
	}
	if u, err := page.CurrentURL(ctx); err == nil {
		parts = append(parts, u)
	}
	haystack := strings.ToLower(strings.Join(parts, "\n"))
	for _, sig := range Signatures {
		if strings.Contains(haystack, sig) {
			return true
		}
	}
	return browser.AnyMatch(ctx, page, Selectors)
}

// Handle never returns an error; Unresolved is a soft failure for callers.
func (h *Handler) Handle(ctx context.Context, page browser.Page) Outcome {
	if !Detect(ctx, page) {
		return NotPresent
	}
	h.log.Infow("challenge detected")
	for _, s := range h.strategies {
		if ctx.Err() != nil {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, s.Timeout)
		out := s.Try(sctx, page)
		cancel()
		if out == Resolved {
			h.log.Infow("challenge resolved", "strategy", s.Name)
			return Resolved
		}
		h.log.Debugw("challenge strategy failed", "strategy", s.Name)
	}
	h.log.Warnw("challenge unresolved", "strategies", len(h.strategies))
	return Unresolved
}
