package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// ScannerIntel consults a scanner-intelligence HTTP API for behavioral
// classification of an address. It refines ip_type but never overrides
// geography; the cascade's merge rules enforce that.
type ScannerIntel struct {
	c      *http.Client
	root   *url.URL
	apiKey string
	keyHdr string
}

// NewScannerIntel builds the source. The client must already carry any
// proxy or TLS configuration; apiKey may be empty for community tiers.
func NewScannerIntel(c *http.Client, root string, apiKey string) (*ScannerIntel, error) {
	if c == nil {
		c = http.DefaultClient
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("enrich: scanner root: %w", err)
	}
	return &ScannerIntel{c: c, root: u, apiKey: apiKey, keyHdr: "key"}, nil
}

// Name implements Source.
func (s *ScannerIntel) Name() cowrieprocessor.Service { return cowrieprocessor.ServiceScanner }

// scannerDoc is the subset of the provider response the engine reads.
type scannerDoc struct {
	Classification string `json:"classification"`
	Actor          string `json:"actor,omitempty"`
	Bot            bool   `json:"bot,omitempty"`
	VPN            bool   `json:"vpn,omitempty"`
	Tor            bool   `json:"tor,omitempty"`
	Metadata       struct {
		Category string `json:"category,omitempty"`
	} `json:"metadata"`
}

// Lookup implements Source.
func (s *ScannerIntel) Lookup(ctx context.Context, key string) (*Result, error) {
	u := s.root.JoinPath(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set(s.keyHdr, s.apiKey)
	}
	resp, err := fetch(ctx, s.c, req)
	if err != nil {
		return nil, fmt.Errorf("enrich: scanner request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Result{Status: cowrieprocessor.StatusNotFound}, nil
	case http.StatusTooManyRequests:
		return &Result{Status: cowrieprocessor.StatusRateLimited}, nil
	default:
		return nil, fmt.Errorf("enrich: scanner returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("enrich: reading scanner response: %w", err)
	}
	var doc scannerDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("enrich: decoding scanner response: %w", err)
	}

	res := Result{
		Status:     cowrieprocessor.StatusSuccess,
		Confidence: 80,
		Raw:        body,
	}
	switch {
	case doc.Tor:
		res.IPType = cowrieprocessor.IPTypeTor
	case doc.VPN:
		res.IPType = cowrieprocessor.IPTypeVPN
	default:
		switch doc.Metadata.Category {
		case "hosting", "cloud":
			res.IPType = cowrieprocessor.IPTypeCloud
		case "datacenter":
			res.IPType = cowrieprocessor.IPTypeDatacenter
		case "proxy":
			res.IPType = cowrieprocessor.IPTypeProxy
		case "isp", "residential", "mobile":
			res.IPType = cowrieprocessor.IPTypeResidential
		default:
			res.IPType = cowrieprocessor.IPTypeUnknown
			res.Confidence = 10
		}
	}
	return &res, nil
}
