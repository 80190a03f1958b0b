// Package cowrie models the subset of the Cowrie honeypot's event stream
// that the ingestion engine relies on.
//
// Events arrive as free-form JSON objects. The package validates that an
// object is a Cowrie event, projects the keys the engine cares about into
// an [Event], and keeps the full payload so unknown keys survive the
// round-trip into the store.
package cowrie

import (
	"strings"
	"time"
)

// Prefix is the event-id vocabulary prefix all Cowrie events share.
const Prefix = "cowrie."

// Event ids the engine gives special treatment. Anything else with the
// vocabulary prefix is accepted and stored but only counted.
const (
	EventSessionConnect    = "cowrie.session.connect"
	EventSessionClosed     = "cowrie.session.closed"
	EventLoginSuccess      = "cowrie.login.success"
	EventLoginFailed       = "cowrie.login.failed"
	EventCommandInput      = "cowrie.command.input"
	EventCommandFailed     = "cowrie.command.failed"
	EventFileDownload      = "cowrie.session.file_download"
	EventFileUpload        = "cowrie.session.file_upload"
	EventClientFingerprint = "cowrie.client.fingerprint"
	EventClientVersion     = "cowrie.client.version"
)

// Event is the typed projection of one Cowrie event.
type Event struct {
	EventID     string
	Timestamp   time.Time
	Session     string
	SrcIP       string
	Username    string
	Password    string
	Input       string
	URL         string
	Shasum      string
	Fingerprint string
	KeyType     string

	// Raw is the parsed payload, unknown keys included.
	Raw map[string]any
}

// FromMap projects a parsed payload into an Event. The payload is assumed
// to have passed [Validate]; missing optional keys leave zero values.
func FromMap(m map[string]any) *Event {
	ev := Event{Raw: m}
	ev.EventID, _ = m["eventid"].(string)
	ev.Session, _ = m["session"].(string)
	ev.SrcIP, _ = m["src_ip"].(string)
	ev.Username, _ = m["username"].(string)
	ev.Password, _ = m["password"].(string)
	ev.Input, _ = m["input"].(string)
	ev.URL, _ = m["url"].(string)
	ev.Shasum, _ = m["shasum"].(string)
	ev.Fingerprint, _ = m["fingerprint"].(string)
	ev.KeyType, _ = m["type"].(string)
	if ts, ok := m["timestamp"].(string); ok {
		if t, err := ParseTimestamp(ts); err == nil {
			ev.Timestamp = t
		}
	}
	return &ev
}

// ParseTimestamp parses the ISO-8601 timestamps Cowrie emits. Cowrie
// writes both nanosecond-precision and second-precision forms, with and
// without a zone designator; everything is normalized to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var t time.Time
	var err error
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
	} {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// IsLogin reports whether the id is a login attempt event.
func IsLogin(eventID string) bool {
	return strings.HasPrefix(eventID, "cowrie.login.")
}
