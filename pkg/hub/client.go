// Package hub downloads model and dataset files from the HuggingFace hub.
package hub

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// BaseURL is the base URL for HuggingFace downloads.
const BaseURL = "https://huggingface.co"

// sharedTransport provides connection pooling across all hub downloads.
// Model and dataset fetches reuse TCP connections and avoid repeated TLS
// handshakes against the same host.
var sharedTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// NewHTTPClient creates an HTTP client with shared transport and specified timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// APIError represents an HTTP error from the hub with status code and body.
// Use errors.As() to extract the status code for programmatic handling.
type APIError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *APIError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// CheckResponse returns an APIError if the response status is not 2xx.
// The response body is read and included in the error for debugging.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Limit body read to prevent memory exhaustion from malicious responses
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// ResolveURL builds the download URL for a file in a hub repository.
// kind is "models" (implied, empty prefix) or "datasets".
func ResolveURL(kind, repoID, filename string) string {
	if kind == "datasets" {
		return fmt.Sprintf("%s/datasets/%s/resolve/main/%s", BaseURL, repoID, filename)
	}
	return fmt.Sprintf("%s/%s/resolve/main/%s", BaseURL, repoID, filename)
}
