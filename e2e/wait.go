// Package e2e drives real containers through the public redisbox API.
// Tests skip unless REDISBOX_E2E is set and the docker daemon answers.
package e2e

import (
	"context"
	"errors"
	"time"
)

const (
	pollTimeout  = 30 * time.Second
	pollInterval = 100 * time.Millisecond
)

var errPollTimeout = errors.New("condition not met before timeout")

// pollUntil evaluates check until it returns true, the timeout elapses or
// ctx ends.
func pollUntil(ctx context.Context, timeout time.Duration, check func() bool) error {
	if timeout <= 0 {
		timeout = pollTimeout
	}
	timer := time.NewTimer(timeout)
	ticker := time.NewTicker(pollInterval)
	defer timer.Stop()
	defer ticker.Stop()

	for {
		if check() {
			return nil
		}
		select {
		case <-timer.C:
			return errPollTimeout
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
