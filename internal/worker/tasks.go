package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/logger"
)

const (
	TaskUpdateContent     = "update-content-periodically"
	TaskRetryFailedVideos = "retry-failed-videos"
)

// RunTask runs a scheduled background task by id.
func (w *Worker) RunTask(ctx context.Context, id string) error {
	if w.State() != StateActive {
		return ErrNotActive
	}
	switch id {
	case TaskUpdateContent:
		return w.updateContent(ctx)
	case TaskRetryFailedVideos:
		return w.retryFailedVideos(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
}

// updateContent refreshes every cached image and dynamic entry.
func (w *Worker) updateContent(ctx context.Context) error {
	log := logger.WithComponent("worker")
	total := 0
	var errs []error
	for _, p := range []assetcache.Purpose{assetcache.PurposeImage, assetcache.PurposeDynamic} {
		n, err := w.router.Refresh(ctx, p)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", p, err))
		}
	}
	log.Infof("periodic content update refreshed %d entries", total)

	if total > 0 {
		if err := w.notifier.Show(ctx, Notification{
			Title: "Content Updated",
			Body:  "New movies and shows are now available offline.",
			Icon:  DefaultPushIcon,
		}); err != nil {
			log.Warnf("notification failed: %v", err)
		}
	}
	return errors.Join(errs...)
}

// retryFailedVideos re-issues failed CACHE_VIDEO commands. It fails while any
// video is still missing so the one-shot task stays scheduled.
func (w *Worker) retryFailedVideos(ctx context.Context) error {
	log := logger.WithComponent("worker")
	n, err := w.dispatcher.RetryFailed(ctx)
	if n > 0 {
		log.Infof("background sync cached %d videos", n)
		if nerr := w.notifier.Show(ctx, Notification{
			Title: "Sync Complete",
			Body:  "Your queued data has been successfully synced.",
			Icon:  DefaultPushIcon,
		}); nerr != nil {
			log.Warnf("notification failed: %v", nerr)
		}
	}
	if err != nil {
		return err
	}
	if left := w.dispatcher.Failed(); len(left) > 0 {
		return fmt.Errorf("%d videos still pending", len(left))
	}
	return nil
}
