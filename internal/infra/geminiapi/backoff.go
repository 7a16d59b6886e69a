package geminiapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// backoff computes the wait before retrying a rate-limited call:
// min(cap, max(hint, base*(attempt+1))).
type backoff struct {
	base time.Duration
	cap  time.Duration
}

func newBackoff(base, capDelay time.Duration) backoff {
	if base <= 0 {
		base = time.Second
	}
	if capDelay < base {
		capDelay = base
	}
	return backoff{base: base, cap: capDelay}
}

func (b backoff) delay(attempt int, hint time.Duration) time.Duration {
	wait := b.base * time.Duration(attempt+1)
	if hint > wait {
		wait = hint
	}
	if wait > b.cap {
		wait = b.cap
	}
	return wait
}

// sleep waits for d or until ctx is done.
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

// retryHint extracts the server's suggested wait from a 429 response: the
// Retry-After header, or a google.rpc.RetryInfo detail in the body.
func retryHint(headers http.Header, body []byte) time.Duration {
	if value := strings.TrimSpace(headers.Get("Retry-After")); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
		if at, err := http.ParseTime(value); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	var hint time.Duration
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		raw := detail.Get("retryDelay").String()
		if raw == "" {
			return true
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			hint = d
			return false
		}
		return true
	})
	return hint
}
