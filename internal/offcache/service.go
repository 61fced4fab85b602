package offcache

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Service is the caching edge. It intercepts GET traffic for the menu
// app's origin, resolves each request through one of five strategies and
// keeps the bucket registry populated. Everything else passes through.
type Service struct {
	cfg Config

	httpClient *http.Client

	registry *Registry
	static   *Bucket
	videos   *Bucket
	api      *Bucket
	images   *Bucket

	router    *router
	evict     *evictor
	lifecycle *Lifecycle
	metrics   *metricsSet
	stats     *statsCollector

	control  chan Message
	swrGroup singleflight.Group
	bgSem    chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup

	cacheErrLog *rateLimitedLogger

	// now is swappable so TTL and eviction ordering are testable.
	now func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	registry, err := OpenRegistry(cfg.Cache.DataDir, cfg.Cache.Namespace, cfg.Cache.Version)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		registry:    registry,
		static:      registry.Bucket(bucketStatic),
		videos:      registry.Bucket(bucketVideos),
		api:         registry.Bucket(bucketAPI),
		images:      registry.Bucket(bucketImages),
		router:      newRouter(cfg),
		metrics:     newMetricsSet(),
		stats:       newStatsCollector(),
		control:     make(chan Message, 16),
		bgSem:       make(chan struct{}, 32),
		stopCh:      make(chan struct{}),
		cacheErrLog: newRateLimitedLogger("cache", 1*time.Minute),
		now:         time.Now,
	}
	s.evict = newEvictor(s.videos, cfg.videoMaxBytes, cfg.Cache.EvictTarget, s.metrics)
	s.lifecycle = newLifecycle(registry, s.static, cfg.Install.CriticalAssets, s.fetchPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.controlLoop()
	}()

	if cfg.statsEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.statsEvery)
		}()
	}

	if cfg.warmupEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.warmupLoop(cfg.warmupEvery)
		}()
	}

	return s, nil
}

// Startup runs the install and activate transitions: precache the
// critical assets, then drop buckets left behind by prior version tags.
// Install failures are logged only; a degraded shell beats a stuck edge.
func (s *Service) Startup(ctx context.Context) {
	s.lifecycle.OnInstall(ctx)
	s.lifecycle.OnActivate(ctx)
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	s.httpClient.CloseIdleConnections()
	if err := s.registry.Close(); err != nil {
		log.Printf("close registry: %v", err)
	}
}

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	c := s.router.classify(r)
	switch c.route {
	case routeVideo:
		s.serveVideo(w, r)
	case routeNetworkFirst:
		s.serveNetworkFirst(w, r)
	case routeCacheFirst:
		s.serveCacheFirst(w, r, c.bucket)
	case routeStaleWhileRevalidate:
		s.serveStaleWhileRevalidate(w, r)
	case routeFallback:
		s.serveNetworkWithFallback(w, r)
	default:
		s.passthrough(w, r)
	}
}

// identity is the cache key for a request: path plus query, GET-only.
func identity(r *http.Request) string {
	return r.URL.RequestURI()
}

// ---- origin transport ----

func (s *Service) fetchOrigin(r *http.Request) (Entry, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.cfg.Server.Origin+r.URL.RequestURI(), nil)
	if err != nil {
		return Entry{}, err
	}
	copyRequestHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")
	return s.doFetch(req)
}

func (s *Service) fetchPath(ctx context.Context, path string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Server.Origin+path, nil)
	if err != nil {
		return Entry{}, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	return s.doFetch(req)
}

func (s *Service) doFetch(req *http.Request) (Entry, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Status: resp.StatusCode,
		Header: cloneHeader(resp.Header),
		Body:   body,
	}, nil
}

// passthrough forwards a request the edge does not intercept. Requests in
// absolute form (forward-proxy style, skip-listed hosts) go to their own
// target; everything else goes to the origin.
func (s *Service) passthrough(w http.ResponseWriter, r *http.Request) {
	target := s.cfg.Server.Origin + r.URL.RequestURI()
	if r.URL.IsAbs() {
		target = r.URL.String()
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyRequestHeaders(req.Header, r.Header)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		setEdgeHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setEdgeHeader(w.Header(), "passthrough")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// ---- response writing ----

func (s *Service) writeEntry(w http.ResponseWriter, ent Entry, source string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-offcache") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setEdgeHeader(w.Header(), source)
	w.WriteHeader(ent.Status)
	if len(ent.Body) > 0 {
		_, _ = w.Write(ent.Body)
	}
	switch source {
	case "hit", "miss", "offline-hit":
		s.stats.Observe(len(ent.Body))
	}
}

func setEdgeHeader(h http.Header, source string) {
	if source != "" {
		h.Set("X-Offcache", source)
	}
	// In a CORS context custom headers are invisible to page JS unless
	// explicitly exposed.
	ensureExposedHeader(h, "X-Offcache")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func (s *Service) writeNotAvailable(w http.ResponseWriter) {
	setEdgeHeader(w.Header(), "offline-miss")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Resource not available")
}

// offlineBody is the machine-readable outage signal for API routes; the
// admin UI branches on it.
const offlineBody = `{"error":"Offline","message":"No cached data available"}`

func (s *Service) writeOffline(w http.ResponseWriter) {
	setEdgeHeader(w.Header(), "offline-miss")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, offlineBody)
}

// ---- background work ----

// spawnBounded runs fn on a background goroutine gated by the semaphore.
// When the semaphore is full the work is silently dropped; every caller
// is best-effort.
func (s *Service) spawnBounded(fn func(ctx context.Context)) {
	select {
	case s.bgSem <- struct{}{}:
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.bgSem }()
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) warmupLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			s.lifecycle.precache(ctx)
			cancel()
		}
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
