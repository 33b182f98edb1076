package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	retryAttempts = 6
	retryBaseWait = 150 * time.Millisecond
)

// ErrBusy is returned when a write still hits SQLITE_BUSY after the full
// retry budget. The boundary surfaces it as "busy, retry".
var ErrBusy = fmt.Errorf("database is busy")

// WithRetry runs fn, retrying on busy/locked errors with linear backoff
// (~1s total budget). Any other error is returned as-is.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < retryAttempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBaseWait * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
