package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCookies is returned when no cookie credential set is configured.
var ErrNoCookies = errors.New("no cookies configured")

// Cookie mirrors the browser-extension cookie export format.
type Cookie struct {
	Domain         string   `json:"domain"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	HostOnly       bool     `json:"hostOnly,omitempty"`
	HTTPOnly       bool     `json:"httpOnly"`
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	SameSite       string   `json:"sameSite,omitempty"`
	Secure         bool     `json:"secure"`
	Session        bool     `json:"session,omitempty"`
	StoreID        string   `json:"storeId,omitempty"`
	Value          string   `json:"value"`
}

// Expiry returns the expiration as whole unix seconds, or 0 for session cookies.
func (c Cookie) Expiry() int64 {
	if c.ExpirationDate == nil || c.Session {
		return 0
	}
	return int64(*c.ExpirationDate)
}

// NormalizedSameSite returns lax, strict or none; anything else is dropped.
func (c Cookie) NormalizedSameSite() string {
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "lax":
		return "lax"
	case "strict":
		return "strict"
	case "none", "no_restriction":
		return "none"
	default:
		return ""
	}
}

// ParseCookies decodes a JSON array of exported cookies. Entries without a
// name are skipped.
func ParseCookies(data []byte) ([]Cookie, error) {
	var raw []Cookie
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse cookies: %w", err)
	}
	out := raw[:0]
	for _, c := range raw {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadCookies resolves the configured cookie set: inline JSON wins over the file.
func LoadCookies(cfg Config) ([]Cookie, error) {
	if strings.TrimSpace(cfg.CookiesJSON) != "" {
		return ParseCookies([]byte(cfg.CookiesJSON))
	}
	if cfg.CookiesFile != "" {
		data, err := os.ReadFile(cfg.CookiesFile)
		if err != nil {
			return nil, fmt.Errorf("read cookies file: %w", err)
		}
		return ParseCookies(data)
	}
	return nil, ErrNoCookies
}

// CookieSource holds the current cookie credential set. It is replaced by the
// file watcher and read by the session guard.
type CookieSource struct {
	mu      sync.RWMutex
	cookies []Cookie
}

// NewCookieSource seeds a source with an initial set.
func NewCookieSource(cookies []Cookie) *CookieSource {
	return &CookieSource{cookies: append([]Cookie(nil), cookies...)}
}

// Cookies returns a copy of the current set.
func (s *CookieSource) Cookies() []Cookie {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Cookie(nil), s.cookies...)
}

// Replace swaps in a new set.
func (s *CookieSource) Replace(cookies []Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append([]Cookie(nil), cookies...)
}

// Len reports how many cookies are held.
func (s *CookieSource) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies)
}
