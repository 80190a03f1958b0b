// Package sanitize removes control characters that the database's text and
// JSON types refuse to store.
//
// Two forms of the same problem show up in honeypot logs: actual C0/C1
// control bytes embedded in terminal captures, and the literal JSON escape
// text (a backslash-u-0000 spelling and friends) left behind when an
// escaped payload was persisted once and later re-read as text. Detect
// matches both forms and the scrubbing functions remove both.
//
// Sanitization must run after a successful JSON parse, never on a partial
// buffer: scrubbing mid-token corrupts the surrounding JSON.
package sanitize

import (
	"regexp"
	"strings"
)

// Detect matches either an actual disallowed control character or its
// JSON-escape spelling appearing as literal text. Horizontal tab, line
// feed, and carriage return are allowed in both forms.
var Detect = regexp.MustCompile(
	`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]` +
		`|\\u00(?:0[0-8bcefBCEF]|1[0-9a-fA-F]|7[fF])`,
)

// EscapePattern is the escape-form half of [Detect] in a POSIX-compatible
// spelling. The sanitization sweeper interpolates it into a SQL regex
// pre-filter, where stored payloads appear as already-decoded text.
const EscapePattern = `\\u00(0[0-8bcef]|1[0-9a-f]|7f)`

var escapeDetect = regexp.MustCompile(`(?i)` + EscapePattern)

// DetectEscapes reports whether s contains a disallowed control character
// spelled as literal JSON-escape text.
func DetectEscapes(s string) bool {
	return escapeDetect.MatchString(s)
}

func drop(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return r < 0x20 || (r >= 0x7f && r <= 0x9f)
}

// String returns s with disallowed control characters removed, in both
// their raw and literal escape-text forms. Clean input is returned
// unchanged without allocation.
func String(s string) string {
	if strings.Contains(s, `\u`) && escapeDetect.MatchString(s) {
		s = escapeDetect.ReplaceAllString(s, "")
	}
	if !strings.ContainsFunc(s, drop) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if drop(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Bytes is String for a byte slice. The input is interpreted as UTF-8.
func Bytes(p []byte) []byte {
	s := String(string(p))
	return []byte(s)
}

// Object walks a parsed JSON value and sanitizes every string leaf in
// place, including map keys. Non-string leaves are untouched and unknown
// structure is preserved.
func Object(v map[string]any) map[string]any {
	for k, val := range v {
		ck := String(k)
		cv := value(val)
		if ck != k {
			delete(v, k)
		}
		v[ck] = cv
	}
	return v
}

func value(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return Object(t)
	case []any:
		for i, e := range t {
			t[i] = value(e)
		}
		return t
	}
	return v
}

// Filename sanitizes a file name captured from attacker input: control
// characters are removed and any ".." path segments are dropped so the
// value can never traverse upward if it is later used to build a path.
func Filename(name string) string {
	name = String(name)
	if !strings.Contains(name, "..") {
		return name
	}
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == ".." {
			continue
		}
		kept = append(kept, strings.ReplaceAll(p, "..", ""))
	}
	return strings.Join(kept, "/")
}

// URL sanitizes a captured URL: control characters and all whitespace are
// removed.
func URL(u string) string {
	u = String(u)
	if !strings.ContainsAny(u, " \t\n\r\v\f") {
		return u
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return -1
		}
		return r
	}, u)
}
