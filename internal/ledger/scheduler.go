package ledger

import (
	"context"
	"time"

	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/repository"
)

// StartMaintenance runs the ledger's background loop: it flushes the dirty
// document to repo every persistInterval and runs the auto-delete sweep every
// sweepInterval. On ctx.Done it performs a final flush before returning.
// The returned channel is closed once the loop has stopped.
func StartMaintenance(
	ctx context.Context,
	l *Ledger,
	repo repository.Saver,
	persistInterval, sweepInterval time.Duration,
) <-chan struct{} {
	done := make(chan struct{})
	log := logger.WithComponent("persist")
	log.Debugf("starting ledger maintenance: persist every %v, sweep every %v", persistInterval, sweepInterval)

	persist := time.NewTicker(persistInterval)
	sweep := time.NewTicker(sweepInterval)
	go func() {
		defer close(done)
		defer persist.Stop()
		defer sweep.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug("ledger maintenance cancelled, performing final flush")
				Flush(context.Background(), l, repo)
				log.Info("ledger maintenance stopped after final flush")
				return
			case <-persist.C:
				Flush(ctx, l, repo)
			case <-sweep.C:
				if removed := l.Sweep(ctx); len(removed) > 0 {
					log.Infof("periodic sweep removed %d watched downloads", len(removed))
				}
			}
		}
	}()
	return done
}

// Flush persists the ledger if it is dirty. Changes made while the save is
// in flight keep the ledger dirty for the next flush.
func Flush(ctx context.Context, l *Ledger, repo repository.Saver) {
	log := logger.WithComponent("persist")

	snapshot, version, dirty, err := l.flushState()
	if !dirty {
		log.Trace("ledger is clean, skipping flush")
		return
	}
	if err != nil {
		log.Errorf("persist error: failed to get snapshot: %v", err)
		return
	}
	if err := ctx.Err(); err != nil {
		log.Debugf("flush cancelled: %v", err)
		return
	}

	snapshot.Metadata.LastUpdate = time.Now().UnixMilli()
	if err := repo.Save(ctx, &snapshot); err != nil {
		log.Errorf("persist error: failed to save: %v", err)
		return
	}

	l.markPersisted(version, snapshot.Metadata.LastUpdate)
	log.Info("ledger persisted to disk")
}
