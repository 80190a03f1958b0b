package enrich

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Breach checks passwords against a breach-corpus range API using the
// k-anonymity scheme: only the first five hex digits of the SHA-1 leave
// the process, and the provider returns every suffix in that bucket.
type Breach struct {
	c    *http.Client
	root *url.URL
}

// NewBreach builds the source.
func NewBreach(c *http.Client, root string) (*Breach, error) {
	if c == nil {
		c = http.DefaultClient
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("enrich: breach root: %w", err)
	}
	return &Breach{c: c, root: u}, nil
}

// Name implements Source.
func (b *Breach) Name() cowrieprocessor.Service { return cowrieprocessor.ServiceBreach }

// Lookup implements Source. The key is the cleartext password; it is
// hashed locally and never transmitted.
func (b *Breach) Lookup(ctx context.Context, key string) (*Result, error) {
	sum := fmt.Sprintf("%X", sha1.Sum([]byte(key)))
	prefix, suffix := sum[:5], sum[5:]

	u := b.root.JoinPath("range", prefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := fetch(ctx, b.c, req)
	if err != nil {
		return nil, fmt.Errorf("enrich: breach request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return &Result{Status: cowrieprocessor.StatusRateLimited}, nil
	default:
		return nil, fmt.Errorf("enrich: breach range returned %s", resp.Status)
	}

	var count int64
	s := bufio.NewScanner(io.LimitReader(resp.Body, 8<<20))
	for s.Scan() {
		line := s.Text()
		i := strings.IndexByte(line, ':')
		if i < 0 || !strings.EqualFold(line[:i], suffix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("enrich: breach count %q: %w", line, err)
		}
		count = n
		break
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("enrich: reading breach range: %w", err)
	}

	res := Result{Status: cowrieprocessor.StatusSuccess, Prevalence: &count}
	flagged := count > 0
	res.Flagged = &flagged
	if !flagged {
		res.Status = cowrieprocessor.StatusNotFound
	}
	res.Raw, _ = json.Marshal(map[string]any{"prefix": prefix, "count": count})
	return &res, nil
}
