// Package integration handles external service interactions
package integration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ErrUnexpectedStatus is wrapped by fetch errors caused by a non-200 response
var ErrUnexpectedStatus = errors.New("unexpected status code")

const defaultTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// get sends a GET request and returns the response when the status is 200.
// The caller closes the body.
func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	res, err := client.Do(req)
	if err != nil {
		log.Printf("Error fetching %s: %v", url, err)
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		log.Printf("Received unexpected status code from %s: %d %s", url, res.StatusCode, res.Status)
		return nil, fmt.Errorf("%w from %s: %s", ErrUnexpectedStatus, url, res.Status)
	}
	return res, nil
}
