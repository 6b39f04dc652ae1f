// Package calls tracks the calls visible on the live dashboard and turns
// successive table snapshots into start and completion events.
package calls

import (
	"net/url"
	"strings"
	"time"
)

// CallSession is one live call keyed by the dashboard row id.
type CallSession struct {
	ID           string
	PhoneNumber  string
	Region       string
	Country      string
	Flag         string
	DetectedAt   time.Time
	LastSeen     time.Time
	RecordingURL string
	// AdminMessageID is the transient admin notification; 0 when none.
	AdminMessageID int64
}

// RecordingURL builds the absolute recording address for a call.
func RecordingURL(baseURL, path, number, id string) string {
	q := url.Values{}
	q.Set("did", number)
	q.Set("uuid", id)
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/") + "?" + q.Encode()
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
