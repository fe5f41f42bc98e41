package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const maxErrorBody = 512

// httpBackoff is the retry policy for backend HTTP calls: three retries
// with exponential backoff, starting at half a second.
func httpBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
}

// doRequest sends the request built by build, retrying transport errors
// and retryable status codes. It returns the final response body and
// status; a non-2xx final status is returned to the caller, not treated
// as an error, so adapters can react to specific codes.
func doRequest(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error)) ([]byte, int, error) {
	var (
		body   []byte
		status int
	)

	err := retry.Do(ctx, httpBackoff(), func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}

		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		status = resp.StatusCode

		switch status {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return retry.RetryableError(fmt.Errorf("status %d: %s", status, excerpt(body)))
		}

		return nil
	})
	if err != nil {
		return body, status, err
	}

	return body, status, nil
}

func excerpt(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return string(body)
}

// statusError formats a non-2xx response into an error.
func statusError(op string, status int, body []byte) error {
	return fmt.Errorf("%s: unexpected status %d: %s", op, status, excerpt(body))
}

func ok2xx(status int) bool {
	return status >= 200 && status < 300
}
