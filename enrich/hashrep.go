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

// HashReputation looks up a file hash against a malware-analysis service.
// A not-found answer is cached on a short TTL: samples frequently get
// submitted by someone else within hours of first being seen on a sensor.
type HashReputation struct {
	c      *http.Client
	root   *url.URL
	apiKey string
}

// NewHashReputation builds the source.
func NewHashReputation(c *http.Client, root, apiKey string) (*HashReputation, error) {
	if c == nil {
		c = http.DefaultClient
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("enrich: hash reputation root: %w", err)
	}
	return &HashReputation{c: c, root: u, apiKey: apiKey}, nil
}

// Name implements Source.
func (h *HashReputation) Name() cowrieprocessor.Service { return cowrieprocessor.ServiceHashRep }

// Lookup implements Source. The key is a hex SHA-256.
func (h *HashReputation) Lookup(ctx context.Context, key string) (*Result, error) {
	u := h.root.JoinPath("files", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if h.apiKey != "" {
		req.Header.Set("x-apikey", h.apiKey)
	}
	resp, err := fetch(ctx, h.c, req)
	if err != nil {
		return nil, fmt.Errorf("enrich: hash reputation request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Result{Status: cowrieprocessor.StatusNotFound}, nil
	case http.StatusTooManyRequests:
		return &Result{Status: cowrieprocessor.StatusRateLimited}, nil
	default:
		return nil, fmt.Errorf("enrich: hash reputation returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("enrich: reading hash reputation response: %w", err)
	}
	var doc struct {
		Data struct {
			Attributes struct {
				Stats struct {
					Malicious  int64 `json:"malicious"`
					Suspicious int64 `json:"suspicious"`
				} `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("enrich: decoding hash reputation response: %w", err)
	}
	mal := doc.Data.Attributes.Stats.Malicious + doc.Data.Attributes.Stats.Suspicious
	flagged := mal > 0
	return &Result{
		Status:     cowrieprocessor.StatusSuccess,
		Flagged:    &flagged,
		Prevalence: &mal,
		Raw:        body,
	}, nil
}
