package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
)

// Source tells where the served response came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Result is a served response together with how it was obtained.
type Result struct {
	Entry    *assetcache.Entry
	Source   Source
	Strategy Strategy
}

// Router applies the population strategies to intercepted requests against
// one generation's asset cache.
type Router struct {
	rules   *Rules
	cache   *assetcache.Cache
	fetcher fetch.Fetcher

	// baseCtx bounds background revalidations, which outlive the request
	// that triggered them.
	baseCtx context.Context
	group   singleflight.Group
	wg      sync.WaitGroup
}

func NewRouter(baseCtx context.Context, rules *Rules, cache *assetcache.Cache, fetcher fetch.Fetcher) *Router {
	return &Router{rules: rules, cache: cache, fetcher: fetcher, baseCtx: baseCtx}
}

func (r *Router) Rules() *Rules {
	return r.rules
}

// Handle serves req according to its classification. A network error is
// returned only when the strategy has no cached value to fall back to.
func (r *Router) Handle(ctx context.Context, req fetch.Request) (*Result, error) {
	d := r.rules.Classify(req)

	var (
		res *Result
		err error
	)
	switch d.Strategy {
	case StrategyNavigation:
		res, err = r.navigation(ctx, req)
	case StrategyCacheFirst:
		res, err = r.cacheFirst(ctx, req, d.Purpose)
	case StrategySWR:
		res, err = r.staleWhileRevalidate(ctx, req, d.Purpose)
	default:
		res, err = r.network(ctx, req)
	}

	if err != nil {
		metrics.RecordPolicyResult(string(d.Strategy), "error")
		return nil, err
	}
	res.Strategy = d.Strategy
	metrics.RecordPolicyResult(string(d.Strategy), string(res.Source))
	return res, nil
}

func (r *Router) network(ctx context.Context, req fetch.Request) (*Result, error) {
	e, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Entry: e, Source: SourceNetwork}, nil
}

func (r *Router) match(ctx context.Context, p assetcache.Purpose, key string) *assetcache.Entry {
	e, ok, err := r.cache.Match(ctx, p, key)
	if err != nil {
		logger.WithComponent("policy").Warnf("match %s in %s failed: %v", key, p, err)
		return nil
	}
	if !ok {
		return nil
	}
	return e
}

// store writes e unless it is an error response. Storage failures never reach
// the fetch path.
func (r *Router) store(ctx context.Context, p assetcache.Purpose, key string, e *assetcache.Entry) {
	if !e.OK() {
		return
	}
	if err := r.cache.Put(ctx, p, key, e); err != nil {
		logger.WithComponent("policy").Warnf("not caching %s in %s: %v", key, p, err)
	}
}

// cacheFirst serves from the shell store and otherwise goes to the network
// without populating: the shell is only written at install time.
func (r *Router) cacheFirst(ctx context.Context, req fetch.Request, p assetcache.Purpose) (*Result, error) {
	if e := r.match(ctx, p, req.URL); e != nil {
		return &Result{Entry: e, Source: SourceCache}, nil
	}
	return r.network(ctx, req)
}

// navigation prefers the network. On a transport failure it serves the
// cached shell copy of the URL, then the first cached entry point.
func (r *Router) navigation(ctx context.Context, req fetch.Request) (*Result, error) {
	e, err := r.fetcher.Fetch(ctx, req)
	if err == nil {
		return &Result{Entry: e, Source: SourceNetwork}, nil
	}

	candidates := append([]string{req.URL}, r.rules.EntryPoints()...)
	for _, key := range candidates {
		if cached := r.match(ctx, assetcache.PurposeShell, key); cached != nil {
			logger.WithComponent("policy").Infof("offline navigation to %s served from %s", req.URL, key)
			return &Result{Entry: cached, Source: SourceFallback}, nil
		}
	}
	return nil, err
}

func (r *Router) staleWhileRevalidate(ctx context.Context, req fetch.Request, p assetcache.Purpose) (*Result, error) {
	if cached := r.match(ctx, p, req.URL); cached != nil {
		r.revalidate(req, p)
		return &Result{Entry: cached, Source: SourceCache}, nil
	}

	e, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	r.store(ctx, p, req.URL, e)
	return &Result{Entry: e, Source: SourceNetwork}, nil
}

// revalidate refreshes the entry in the background. Concurrent refreshes of
// the same key share one fetch. A failed refresh keeps the stale entry.
func (r *Router) revalidate(req fetch.Request, p assetcache.Purpose) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _, _ = r.group.Do(string(p)+"|"+req.URL, func() (any, error) {
			e, err := r.fetcher.Fetch(r.baseCtx, req)
			if err != nil {
				metrics.RecordRevalidation(false)
				logger.WithComponent("policy").Debugf("revalidation of %s failed: %v", req.URL, err)
				return nil, err
			}
			r.store(r.baseCtx, p, req.URL, e)
			metrics.RecordRevalidation(e.OK())
			return nil, nil
		})
	}()
}

// Refresh re-fetches every entry of purpose p and overwrites those that come
// back 2xx. It returns how many entries were updated.
func (r *Router) Refresh(ctx context.Context, p assetcache.Purpose) (int, error) {
	keys, err := r.cache.Keys(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("list %s entries: %w", p, err)
	}

	updated := 0
	var errs []error
	for _, key := range keys {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		e, err := r.fetcher.Fetch(ctx, fetch.Request{URL: key, Reload: true})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !e.OK() {
			continue
		}
		if err := r.cache.Put(ctx, p, key, e); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

// Wait blocks until every background revalidation has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}
