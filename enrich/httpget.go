package enrich

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// retries bounds transparent retries per lookup. Anything still failing
// after that is the cascade's problem to classify.
const retries = 3

// fetch issues the request with exponential backoff on transient
// failures: transport errors and 5xx responses. Everything else,
// including 404 and 429, returns to the caller immediately, since those
// carry meaning for the cache.
func fetch(ctx context.Context, c *http.Client, req *http.Request) (*http.Response, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	var resp *http.Response
	op := func() error {
		r, err := c.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("enrich: server error: %s", r.Status)
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return resp, nil
}
