package policy

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/fetch"
)

// Strategy is the population strategy applied to an intercepted request.
type Strategy string

const (
	StrategyNetworkOnly Strategy = "network-only"
	StrategyNavigation  Strategy = "navigation"
	StrategyCacheFirst  Strategy = "cache-first"
	StrategySWR         Strategy = "stale-while-revalidate"
)

// Decision is the outcome of classifying a request.
type Decision struct {
	Strategy Strategy
	// Purpose is the store consulted by the strategy. Empty for network-only.
	Purpose assetcache.Purpose
}

// Rules classifies intercepted requests. Build it with NewRules.
type Rules struct {
	origin      *url.URL
	shell       map[string]struct{}
	shellPaths  map[string]struct{}
	shellURLs   []string
	entryPoints []string
	imageHosts  map[string]struct{}
	docHosts    map[string]struct{}
}

// NewRules resolves origin-relative shell URLs and entry points against
// origin. Hosts are compared case-insensitively and without port.
func NewRules(origin string, shellURLs, entryPoints, imageHosts, documentStoreHosts []string) (*Rules, error) {
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got %q", origin)
	}

	r := &Rules{
		origin:     o,
		shell:      map[string]struct{}{},
		shellPaths: map[string]struct{}{},
		imageHosts: hostSet(imageHosts),
		docHosts:   hostSet(documentStoreHosts),
	}
	for _, s := range shellURLs {
		abs, err := r.Resolve(s)
		if err != nil {
			return nil, fmt.Errorf("shell url %q: %w", s, err)
		}
		if _, dup := r.shell[abs]; dup {
			continue
		}
		r.shell[abs] = struct{}{}
		r.shellURLs = append(r.shellURLs, abs)
		if u, _ := url.Parse(abs); u != nil {
			r.shellPaths[u.Path] = struct{}{}
		}
	}
	for _, e := range entryPoints {
		abs, err := r.Resolve(e)
		if err != nil {
			return nil, fmt.Errorf("entry point %q: %w", e, err)
		}
		r.entryPoints = append(r.entryPoints, abs)
	}
	return r, nil
}

func hostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return set
}

// Resolve turns ref into an absolute cache key relative to the origin.
func (r *Rules) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return assetcache.NormalizeKey(r.origin.ResolveReference(u).String())
}

// ShellURLs lists the absolute shell URLs in configuration order.
func (r *Rules) ShellURLs() []string {
	return append([]string(nil), r.shellURLs...)
}

// EntryPoints lists the absolute fallback documents for navigations, most
// preferred first.
func (r *Rules) EntryPoints() []string {
	return append([]string(nil), r.entryPoints...)
}

func (r *Rules) Origin() *url.URL {
	u := *r.origin
	return &u
}

func (r *Rules) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host)
}

// Classify picks the strategy for req. The first matching rule wins:
// document-store traffic, navigations, image hosts, the app origin or shell
// paths, then everything else.
func (r *Rules) Classify(req fetch.Request) Decision {
	u, err := url.Parse(req.URL)
	if err != nil {
		return Decision{Strategy: StrategyNetworkOnly}
	}
	host := strings.ToLower(u.Hostname())

	if _, ok := r.docHosts[host]; ok {
		return Decision{Strategy: StrategyNetworkOnly}
	}
	// Only GET responses are replayable.
	if req.Method != "" && req.Method != http.MethodGet {
		return Decision{Strategy: StrategyNetworkOnly}
	}
	if r.sameOrigin(u) && isNavigation(req, u) {
		return Decision{Strategy: StrategyNavigation, Purpose: assetcache.PurposeShell}
	}
	if _, ok := r.imageHosts[host]; ok {
		return Decision{Strategy: StrategySWR, Purpose: assetcache.PurposeImage}
	}
	if _, ok := r.shellPaths[u.Path]; ok || r.sameOrigin(u) {
		return Decision{Strategy: StrategyCacheFirst, Purpose: assetcache.PurposeShell}
	}
	return Decision{Strategy: StrategySWR, Purpose: assetcache.PurposeDynamic}
}

func isNavigation(req fetch.Request, u *url.URL) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html") && path.Ext(u.Path) == ""
}
