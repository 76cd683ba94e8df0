package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/queuemgr"
)

// keepAlive is the background task that periodically touches a leased
// crawl job so the broker's TTR never expires out from under a
// long-running engine invocation.
type keepAlive struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// stop signals the keep-alive task to exit and waits for it. Safe to call
// on a nil *keepAlive (the no-op case where a job's TTR was too small to
// bother touching).
func (k *keepAlive) stop() {
	if k == nil {
		return
	}
	k.stopOnce.Do(func() { close(k.stopCh) })
	<-k.done
}

// maybeStartKeepAlive starts a touch loop for reserved if its TTR clears
// cfg.MinTouchThreshold, returning nil otherwise. The touch interval is
// max(15s, ttr*0.4), further capped so at least one touch lands no later
// than 15s before the lease would expire; a TTR of 15s or less, which
// leaves no such margin, is touched every ttr*0.4 instead. A failed touch (job lost,
// broker unreachable) stops the loop rather than retrying indefinitely;
// the dispatch itself still runs to completion and its own Retry/Fail
// call is what actually reconciles the broker state.
func (d *Dispatcher) maybeStartKeepAlive(ctx context.Context, reserved *queuemgr.Reserved) *keepAlive {
	ttr := reserved.TTR
	if ttr <= 0 || ttr < d.cfg.MinTouchThreshold {
		return nil
	}

	interval := time.Duration(float64(ttr) * 0.4)
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	if margin := ttr - 15*time.Second; interval > margin {
		interval = margin
	}
	if interval <= 0 {
		interval = time.Duration(float64(ttr) * 0.4)
	}

	k := &keepAlive{stopCh: make(chan struct{}), done: make(chan struct{})}
	jobID := reserved.JobID

	// SafeGo rather than SafeGoWithContext: the latter skips fn entirely
	// (and thus our defer close(k.done)) when ctx is already canceled,
	// which would leave stop() blocked forever. The loop below already
	// selects on ctx.Done() itself.
	common.SafeGo(d.logger, "dispatcher-keepalive", func() {
		defer close(k.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-k.stopCh:
				return
			case <-ticker.C:
				if err := d.queue.Touch(ctx, jobID, ttr); err != nil {
					if d.logger != nil {
						d.logger.Warn().Err(err).Str("job_id", jobID).Msg("dispatcher: keep-alive touch failed, stopping")
					}
					return
				}
			}
		}
	})
	return k
}
