package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxRetryAfter caps how long a server may ask us to wait.
const maxRetryAfter = time.Minute

// retryDo sends a body-less request up to maxAttempts times. Network
// errors, 429 and 5xx responses are retried with exponential backoff
// starting at backoff, or after the server's Retry-After when it names a
// number of seconds. Other responses are returned as is. When every
// attempt fails on status the last response is returned with an empty
// body.
func retryDo(ctx context.Context, client *http.Client, req *http.Request, maxAttempts int, backoff time.Duration) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		last    *http.Response
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		wait = backoff << attempt

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last, lastErr = nil, err
			continue
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			wait = d
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		last, lastErr = resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return last, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter parses a delay-seconds Retry-After value.
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter), true
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
