package offcache

import (
	"net/http"
	"strings"
)

type route int

const (
	// routePassthrough forwards the request untouched: non-GET methods,
	// skip-listed hosts and cross-origin traffic.
	routePassthrough route = iota
	routeVideo
	routeNetworkFirst
	routeCacheFirst
	routeStaleWhileRevalidate
	routeFallback
)

func (r route) String() string {
	switch r {
	case routeVideo:
		return "video"
	case routeNetworkFirst:
		return "network-first"
	case routeCacheFirst:
		return "cache-first"
	case routeStaleWhileRevalidate:
		return "stale-while-revalidate"
	case routeFallback:
		return "fallback"
	default:
		return "passthrough"
	}
}

type classification struct {
	route  route
	bucket string // set for routeCacheFirst
}

// router classifies requests into handling strategies. It is a pure
// function of the request; all pattern lists come from the config.
type router struct {
	skip         []string
	networkFirst []string
	cacheFirst   []CacheFirstRoute
	videoPaths   []string
	videoExts    []string
	publicHost   string
}

func newRouter(cfg Config) *router {
	return &router{
		skip:         cfg.Routes.Skip,
		networkFirst: cfg.Routes.NetworkFirst,
		cacheFirst:   cfg.Routes.CacheFirst,
		videoPaths:   cfg.Routes.VideoPaths,
		videoExts:    cfg.Routes.VideoExts,
		publicHost:   cfg.Server.PublicHost,
	}
}

// classify applies the strategy rules in specificity order: hard
// exclusions first, then content-type-specific rules, then the generic
// HTML and catch-all rules. Ordering matters: an HTML-accepting request
// for a video URL is still treated as video.
func (rt *router) classify(r *http.Request) classification {
	if r.Method != http.MethodGet {
		return classification{route: routePassthrough}
	}

	full := r.Host + r.URL.RequestURI()
	for _, pat := range rt.skip {
		if strings.Contains(full, pat) {
			return classification{route: routePassthrough}
		}
	}

	if rt.publicHost != "" && r.Host != "" && !strings.EqualFold(r.Host, rt.publicHost) {
		return classification{route: routePassthrough}
	}

	path := r.URL.Path
	for _, p := range rt.videoPaths {
		if strings.Contains(path, p) {
			return classification{route: routeVideo}
		}
	}
	for _, ext := range rt.videoExts {
		if strings.HasSuffix(path, ext) {
			return classification{route: routeVideo}
		}
	}

	for _, pat := range rt.networkFirst {
		if strings.Contains(path, pat) {
			return classification{route: routeNetworkFirst}
		}
	}

	for _, cf := range rt.cacheFirst {
		if strings.Contains(path, cf.Match) {
			return classification{route: routeCacheFirst, bucket: cf.Bucket}
		}
	}

	if isNavigation(r) {
		return classification{route: routeStaleWhileRevalidate}
	}

	return classification{route: routeFallback}
}

// isNavigation mirrors the browser's request.mode === "navigate" check:
// either the fetch-metadata header says so or the Accept header asks for
// an HTML document.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
