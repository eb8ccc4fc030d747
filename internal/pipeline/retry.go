package pipeline

import (
	"context"
	"time"

	"github.com/poacher-dev/poacher/internal/handler"
	"github.com/poacher-dev/poacher/internal/types"
)

// RetryPolicy bounds handler retries. The delay is fixed.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy retries twice, one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: time.Second}
}

// handleResult is what the Handling state hands to Resolving.
type handleResult struct {
	matched  bool
	logs     []string
	attempts int
	failed   bool // every attempt returned an error
}

// runHandler calls h until it returns without error or the policy is
// exhausted. Each attempt gets its own sink, so the logs handed on belong
// to the attempt that produced the verdict. Exhaustion is a non-match.
func (r *Runner) runHandler(ctx context.Context, localPath string, repo *types.Repository) handleResult {
	echo := r.log.With(r.handler.Name())
	maxAttempts := r.retry.MaxRetries + 1

	var res handleResult
	for res.attempts < maxAttempts {
		res.attempts++
		sink := handler.NewSink(echo)

		matched, err := handler.SafeRun(ctx, r.handler, localPath, repo, sink)
		if err == nil {
			res.matched = matched
			res.logs = sink.Entries()
			return res
		}

		r.log.Write("Error in handler: %v", err)
		if res.attempts < maxAttempts {
			if serr := r.sleep(ctx, r.retry.Delay); serr != nil {
				break
			}
		}
	}

	r.log.Write("Max. retries reached. Unable to process repo %s", repo.DisplayName())
	res.failed = true
	return res
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
