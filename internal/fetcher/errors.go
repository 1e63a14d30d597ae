package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRateLimited marks an upstream 429. The resolver arms its global backoff
// gate on this error; it is never surfaced to end users as a hard failure.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrNoData marks a symbol unknown to the queried source. This is a defined
// terminal result, not an anomaly.
var ErrNoData = errors.New("no data for symbol")

func httpError(source string, status int, payload []byte) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", source, ErrRateLimited)
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", source, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", source, status)
}
