package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/schema"
)

// Policy bounds how an upstream call is retried.
type Policy struct {
	// Attempts is the total number of calls, at least 1.
	Attempts int
	// Backoff is multiplied by the attempt number between calls.
	Backoff time.Duration
	// Timeout bounds each single call. Zero means no extra bound.
	Timeout time.Duration
	// Retryable decides whether an error is worth another call. Nil
	// retries everything except context errors.
	Retryable func(error) bool
}

// DefaultPolicy is used when a backend has no explicit configuration.
var DefaultPolicy = Policy{Attempts: 3, Backoff: time.Second, Timeout: 2 * time.Minute}

// CallWithRetry calls fn until it succeeds, the attempts run out, ctx is
// done or the error is not retryable.
func CallWithRetry(ctx context.Context, p Policy, log zerolog.Logger, fn func(context.Context) (string, error)) (string, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := callOnce(ctx, p.Timeout, fn)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return "", err
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("upstream call failed")
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * p.Backoff):
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func callOnce(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := fn(ctx)
	if err == nil && text == "" {
		err = errors.New("empty response")
	}
	return text, err
}

// Exchange performs one turn: the upstream call with retries, then scene
// validation. Transport failures come back as *UpstreamCallError; bad
// output as the schema package's errors and is never retried. raw is the
// model text, for the adapter's native history.
func Exchange(ctx context.Context, provider models.Provider, p Policy, log zerolog.Logger, fn func(context.Context) (string, error)) (scene models.GameScene, raw string, err error) {
	raw, err = CallWithRetry(ctx, p, log, fn)
	if err != nil {
		return models.GameScene{}, "", &UpstreamCallError{Provider: provider, Op: "turn", Err: err}
	}
	scene, err = schema.ParseScene(raw)
	if err != nil {
		log.Warn().Err(err).Str("raw", truncate(raw, 400)).Msg("model returned an invalid scene")
		return models.GameScene{}, raw, err
	}
	return scene, raw, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
