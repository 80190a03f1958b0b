package cowrie

import (
	"fmt"
	"strings"
)

// requiredKeys lists per-event-type keys checked during validation, beyond
// the universally required eventid/timestamp/session triple. Only event
// ids present here get the extra check; unknown ids are accepted for
// forward compatibility.
var requiredKeys = map[string][]string{
	EventSessionConnect:    {"src_ip"},
	EventCommandInput:      {"input"},
	EventLoginSuccess:      {"username", "password"},
	EventLoginFailed:       {"username", "password"},
	EventFileDownload:      {"url"},
	EventClientFingerprint: {"fingerprint"},
}

// Validation is the outcome of validating one parsed payload.
type Validation struct {
	// Known reports whether the event id is in the per-type table. Events
	// with unknown ids still validate but are tagged for observability.
	Known bool
	// Errs holds human-readable reasons when validation failed.
	Errs []string
}

// OK reports whether the payload is a valid Cowrie event.
func (v *Validation) OK() bool { return len(v.Errs) == 0 }

// Validate checks that a parsed object is a Cowrie event: it must be a
// mapping with a string "eventid" bearing the vocabulary prefix and a
// parseable UTC timestamp. Session ids longer than 64 bytes are rejected;
// they indicate a corrupt or hostile record.
func Validate(m map[string]any) Validation {
	var v Validation
	if m == nil {
		v.Errs = append(v.Errs, "not a JSON object")
		return v
	}
	id, ok := m["eventid"].(string)
	switch {
	case !ok:
		v.Errs = append(v.Errs, "missing or non-string eventid")
	case !strings.HasPrefix(id, Prefix):
		v.Errs = append(v.Errs, fmt.Sprintf("eventid %q outside vocabulary", id))
	}
	ts, ok := m["timestamp"].(string)
	if !ok {
		v.Errs = append(v.Errs, "missing or non-string timestamp")
	} else if _, err := ParseTimestamp(ts); err != nil {
		v.Errs = append(v.Errs, fmt.Sprintf("unparseable timestamp %q", ts))
	}
	if s, ok := m["session"].(string); ok && len(s) > 64 {
		v.Errs = append(v.Errs, "session id longer than 64 bytes")
	}
	req, known := requiredKeys[id]
	v.Known = known
	for _, k := range req {
		if _, ok := m[k]; !ok {
			v.Errs = append(v.Errs, fmt.Sprintf("%s missing required key %q", id, k))
		}
	}
	return v
}
