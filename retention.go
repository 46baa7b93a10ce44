package stairway

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/stairway/internal/journal"
	"github.com/yungbote/stairway/pkg/logger"
)

// retentionLoop periodically deletes terminal flights older than the
// configured retention age.
type retentionLoop struct {
	journal   *journal.Journal
	retention time.Duration
	interval  time.Duration
	log       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRetentionLoop(j *journal.Journal, retention, interval time.Duration, log *logger.Logger) *retentionLoop {
	return &retentionLoop{
		journal:   j,
		retention: retention,
		interval:  interval,
		log:       log.With("component", "Retention"),
	}
}

func (r *retentionLoop) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *retentionLoop) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.retention)
	deleted, err := r.journal.DeleteCompleted(ctx, cutoff)
	if err != nil {
		r.log.Warn("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		r.log.Info("retention sweep removed completed flights",
			"deleted", deleted,
			"older_than", cutoff.UTC(),
		)
	}
}

func (r *retentionLoop) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
