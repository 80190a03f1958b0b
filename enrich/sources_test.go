package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

func TestScannerClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/198.51.100.1":
			w.Write([]byte(`{"classification":"malicious","tor":true}`))
		case "/198.51.100.2":
			w.Write([]byte(`{"classification":"benign","metadata":{"category":"hosting"}}`))
		case "/198.51.100.3":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	s, err := NewScannerIntel(srv.Client(), srv.URL, "k")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tt := []struct {
		key        string
		wantStatus cowrieprocessor.CacheStatus
		wantType   cowrieprocessor.IPType
	}{
		{"198.51.100.1", cowrieprocessor.StatusSuccess, cowrieprocessor.IPTypeTor},
		{"198.51.100.2", cowrieprocessor.StatusSuccess, cowrieprocessor.IPTypeCloud},
		{"198.51.100.3", cowrieprocessor.StatusNotFound, ""},
		{"198.51.100.4", cowrieprocessor.StatusRateLimited, ""},
	}
	for _, tc := range tt {
		res, err := s.Lookup(ctx, tc.key)
		if err != nil {
			t.Fatalf("%s: %v", tc.key, err)
		}
		if res.Status != tc.wantStatus {
			t.Errorf("%s: got status %q, want %q", tc.key, res.Status, tc.wantStatus)
		}
		if res.IPType != tc.wantType {
			t.Errorf("%s: got type %q, want %q", tc.key, res.IPType, tc.wantType)
		}
	}
}

func TestHashReputation(t *testing.T) {
	const known = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/"+known {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":41,"suspicious":2}}}}`))
	}))
	defer srv.Close()

	h, err := NewHashReputation(srv.Client(), srv.URL, "k")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := h.Lookup(ctx, known)
	if err != nil {
		t.Fatal(err)
	}
	if res.Flagged == nil || !*res.Flagged {
		t.Error("known-bad hash not flagged")
	}
	if res.Prevalence == nil || *res.Prevalence != 43 {
		t.Errorf("got prevalence %v, want 43", res.Prevalence)
	}

	res, err = h.Lookup(ctx, "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != cowrieprocessor.StatusNotFound {
		t.Errorf("got status %q, want not_found", res.Status)
	}
}

func TestBreachRange(t *testing.T) {
	// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/range/5BAA6" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("003D68EB55068C33ACE09247EE4C639306B:3\r\n" +
			"1E4C9B93F3F0682250B6CF8331B7EE68FD8:10437277\r\n" +
			"012C192B2F16F82EA0EB9EF18D9D539B0DD:1\r\n"))
	}))
	defer srv.Close()

	b, err := NewBreach(srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := b.Lookup(ctx, "password")
	if err != nil {
		t.Fatal(err)
	}
	if res.Flagged == nil || !*res.Flagged {
		t.Error("breached password not flagged")
	}
	if res.Prevalence == nil || *res.Prevalence != 10437277 {
		t.Errorf("got prevalence %v, want 10437277", res.Prevalence)
	}
}

func TestBreachNotInBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("003D68EB55068C33ACE09247EE4C639306B:3\r\n"))
	}))
	defer srv.Close()

	b, err := NewBreach(srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.Lookup(context.Background(), "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != cowrieprocessor.StatusNotFound {
		t.Errorf("got status %q, want not_found", res.Status)
	}
	if res.Flagged == nil || *res.Flagged {
		t.Error("unbreached password flagged")
	}
}
