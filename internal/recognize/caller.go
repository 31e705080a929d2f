// Package recognize turns the captcha image into text through an external
// service, retrying unusable answers a bounded number of times.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrInvalidResponse means every attempt failed or returned unusable data.
var ErrInvalidResponse = errors.New("invalid recognition response")

// Func performs one external call.
type Func func(ctx context.Context, payload string) (string, error)

// Validator rejects a response by returning an error describing why.
type Validator func(response string) error

// MinLength accepts responses with at least n characters after trimming.
func MinLength(n int) Validator {
	return func(response string) error {
		if got := utf8.RuneCountInString(strings.TrimSpace(response)); got < n {
			return fmt.Errorf("response %q has %d characters, want at least %d", response, got, n)
		}
		return nil
	}
}

// Caller wraps a Func with validation and bounded retries.
type Caller struct {
	call   Func
	logger *zap.Logger
}

func NewCaller(call Func, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{call: call, logger: logger}
}

// Call invokes the external function up to maxAttempts times, returning the
// first response validate accepts. There is no delay between attempts. When
// attempts run out the error wraps both ErrInvalidResponse and the last
// failure.
func (c *Caller) Call(ctx context.Context, payload string, validate Validator, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := c.call(ctx, payload)
		if err == nil && validate != nil {
			err = validate(resp)
		}
		if err == nil {
			if attempt > 1 {
				c.logger.Info("recognition succeeded after retry", zap.Int("attempt", attempt))
			}
			return strings.TrimSpace(resp), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		lastErr = err
		c.logger.Warn("recognition attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrInvalidResponse, maxAttempts, lastErr)
}
