package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
)

// Dispatcher executes command channel messages against the video store of
// one worker generation.
type Dispatcher struct {
	cache   *assetcache.Cache
	fetcher fetch.Fetcher

	mu        sync.Mutex
	failed    map[string]struct{}
	onFailure func(url string)
}

func NewDispatcher(cache *assetcache.Cache, fetcher fetch.Fetcher) *Dispatcher {
	return &Dispatcher{cache: cache, fetcher: fetcher, failed: map[string]struct{}{}}
}

// OnFailure registers fn to be called after a CACHE_VIDEO fetch fails. The
// dispatcher itself never retries.
func (d *Dispatcher) OnFailure(fn func(url string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailure = fn
}

// Handle executes m synchronously.
func (d *Dispatcher) Handle(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		metrics.RecordCommand(string(m.Type), err)
		return err
	}

	var err error
	switch m.Type {
	case CacheVideo:
		err = d.cacheVideo(ctx, m.URL, false)
	case DeleteVideo:
		err = d.deleteVideo(ctx, m.URL)
	case ClearVideoCache:
		err = d.clearVideos(ctx)
	}
	metrics.RecordCommand(string(m.Type), err)
	return err
}

// errNoLongerFailed stops a retry for a URL deleted since it failed.
var errNoLongerFailed = errors.New("no longer pending retry")

// cacheVideo fetches url and stores it, overwriting any previous copy. On
// any failure nothing is written. The fetch runs under the video key lock, so
// a DELETE_VIDEO for url is never overtaken by the write. With retry set the
// URL is only fetched if it is still marked failed once the lock is held.
func (d *Dispatcher) cacheVideo(ctx context.Context, url string, retry bool) error {
	log := logger.WithComponent("channel")

	var fetchErr error
	e, err := d.cache.Fill(ctx, assetcache.PurposeVideo, url, func(ctx context.Context) (*assetcache.Entry, error) {
		if retry && !d.isFailed(url) {
			return nil, errNoLongerFailed
		}
		e, err := d.fetcher.Fetch(ctx, fetch.Request{URL: url})
		if err == nil && !e.OK() {
			err = fmt.Errorf("fetch %s: unexpected status %d", url, e.StatusCode)
		}
		fetchErr = err
		return e, err
	})
	switch {
	case errors.Is(err, errNoLongerFailed):
		log.Debugf("skipping retry of %s: deleted meanwhile", url)
		return nil
	case fetchErr != nil:
		d.markFailed(url)
		log.Warnf("CACHE_VIDEO %s failed: %v", url, fetchErr)
		return fetchErr
	case err != nil:
		log.Warnf("CACHE_VIDEO %s not stored: %v", url, err)
		return err
	}
	d.clearFailed(url)
	log.Infof("cached video %s (%d bytes)", url, e.Size())
	return nil
}

func (d *Dispatcher) deleteVideo(ctx context.Context, url string) error {
	d.clearFailed(url)
	if err := d.cache.Delete(ctx, assetcache.PurposeVideo, url); err != nil {
		return fmt.Errorf("delete video %s: %w", url, err)
	}
	logger.WithComponent("channel").Infof("deleted video %s", url)
	return nil
}

func (d *Dispatcher) clearVideos(ctx context.Context) error {
	d.mu.Lock()
	d.failed = map[string]struct{}{}
	d.mu.Unlock()
	return d.cache.Clear(ctx, assetcache.PurposeVideo)
}

func (d *Dispatcher) markFailed(url string) {
	d.mu.Lock()
	d.failed[url] = struct{}{}
	fn := d.onFailure
	d.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}

func (d *Dispatcher) isFailed(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.failed[url]
	return ok
}

func (d *Dispatcher) clearFailed(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failed, url)
}

// Failed lists the video URLs whose last CACHE_VIDEO failed.
func (d *Dispatcher) Failed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	urls := make([]string, 0, len(d.failed))
	for u := range d.failed {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// RetryFailed re-issues CACHE_VIDEO for every failed URL. It returns how many
// no longer need a retry and the joined errors of those that still fail.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	ok := 0
	var errs []error
	for _, url := range d.Failed() {
		if err := d.cacheVideo(ctx, url, true); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// HasVideo reports whether url is present in the video store.
func (d *Dispatcher) HasVideo(ctx context.Context, url string) (bool, error) {
	_, ok, err := d.cache.Match(ctx, assetcache.PurposeVideo, url)
	return ok, err
}
