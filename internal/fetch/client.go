// Package fetch provides the outbound clients the analytics and jobs depend on:
// the USD price oracle and per-chain transaction receipt lookup.
package fetch

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewRetryClient creates an HTTP client with retry capabilities. retryMax of
// zero makes exactly one attempt. Once retries are exhausted the last response
// is returned as is, so callers report the status themselves instead of
// receiving an error that quotes the request URL.
func NewRetryClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}
