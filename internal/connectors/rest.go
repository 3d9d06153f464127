package connectors

import (
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// NewRESTClient returns a resty client for JSON/CSV source APIs. Retries are
// left to the item state machine's retry policy.
func NewRESTClient(userAgent string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return client
}

// CheckResponse converts a transport error or a non-2xx response into a
// *sourcing.ConnectorError.
func CheckResponse(source sourcing.Source, resp *resty.Response, err error) error {
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		return sourcing.AsConnectorError(source, status, err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return sourcing.ConnectorErrorFromStatus(source, resp.StatusCode())
	}
	return nil
}
