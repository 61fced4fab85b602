package offcache

import (
	"context"
	"net/http"
)

// serveVideo: cache-first with bounded eviction. Cached videos are
// immutable, so a hit never touches the network and gets no freshness
// check. New videos only enter the bucket when their size is known and
// under the per-item ceiling; the evictor makes room first.
func (s *Service) serveVideo(w http.ResponseWriter, r *http.Request) {
	key := identity(r)

	if ent, ok := s.videos.Match(key); ok {
		s.metrics.hit(routeVideo)
		s.writeEntry(w, ent, "hit")
		return
	}
	s.metrics.miss(routeVideo)

	ent, err := s.fetchOrigin(r)
	if err != nil {
		s.writeNotAvailable(w)
		return
	}

	if ent.cacheable() {
		if size := ent.size(); size > 0 && size < s.cfg.videoMaxBytes {
			s.evict.makeRoom(size)
			if err := s.videos.Put(key, ent.stamped(s.now())); err != nil {
				s.cacheErrLog.Printf("store video %s: %v", key, err)
			}
		}
	}
	s.writeEntry(w, ent, "miss")
}

// serveNetworkFirst: freshness over availability for API data. The
// stored copy is stamped with its store time; during an outage it is
// served only while younger than the TTL, after that the route answers
// with an explicit offline signal.
func (s *Service) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	key := identity(r)

	ent, err := s.fetchOrigin(r)
	if err == nil {
		if ent.cacheable() {
			if err := s.api.Put(key, ent.stamped(s.now())); err != nil {
				s.cacheErrLog.Printf("store api %s: %v", key, err)
			}
		}
		s.metrics.miss(routeNetworkFirst)
		s.writeEntry(w, ent, "miss")
		return
	}

	if cached, ok := s.api.Match(key); ok {
		age := s.now().UnixMilli() - cached.cachedAt()
		if age < s.cfg.apiTTL.Milliseconds() {
			s.metrics.hit(routeNetworkFirst)
			s.writeEntry(w, cached, "offline-hit")
			return
		}
	}
	s.metrics.miss(routeNetworkFirst)
	s.writeOffline(w)
}

// serveCacheFirst: for static assets and images. The bucket is a route
// parameter; a hit is final, a miss populates the bucket from the origin.
func (s *Service) serveCacheFirst(w http.ResponseWriter, r *http.Request, bucket string) {
	key := identity(r)
	target := s.registry.Bucket(bucket)

	if ent, ok := target.Match(key); ok {
		s.metrics.hit(routeCacheFirst)
		s.writeEntry(w, ent, "hit")
		return
	}
	s.metrics.miss(routeCacheFirst)

	ent, err := s.fetchOrigin(r)
	if err != nil {
		s.writeNotAvailable(w)
		return
	}
	if ent.cacheable() {
		if err := target.Put(key, ent); err != nil {
			s.cacheErrLog.Printf("store %s %s: %v", bucket, key, err)
		}
	}
	s.writeEntry(w, ent, "miss")
}

// serveStaleWhileRevalidate: HTML and navigations. A cached copy is
// returned immediately while a background refresh updates the static
// bucket for the next request. Only a cold miss waits on the network.
func (s *Service) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := identity(r)

	if ent, ok := s.static.Match(key); ok {
		s.refreshAsync(key)
		s.metrics.hit(routeStaleWhileRevalidate)
		s.writeEntry(w, ent, "hit")
		return
	}
	s.metrics.miss(routeStaleWhileRevalidate)

	ent, err := s.fetchAndStoreStatic(r.Context(), key)
	if err != nil {
		setEdgeHeader(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.writeEntry(w, ent, "miss")
}

// refreshAsync revalidates a static entry in the background. Errors stay
// inside the task; singleflight collapses concurrent refreshes of the
// same key.
func (s *Service) refreshAsync(key string) {
	s.spawnBounded(func(ctx context.Context) {
		if _, err := s.fetchAndStoreStatic(ctx, key); err != nil {
			s.cacheErrLog.Printf("background refresh %s: %v", key, err)
		}
	})
}

func (s *Service) fetchAndStoreStatic(ctx context.Context, key string) (Entry, error) {
	v, err, _ := s.swrGroup.Do(key, func() (any, error) {
		ent, err := s.fetchPath(ctx, key)
		if err != nil {
			return nil, err
		}
		if ent.cacheable() {
			if err := s.static.Put(key, ent); err != nil {
				s.cacheErrLog.Printf("store static %s: %v", key, err)
			}
		}
		return ent, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// serveNetworkWithFallback: the catch-all. Successful responses land in
// the static bucket; when the origin is down the identity is looked up
// across every bucket before giving up.
func (s *Service) serveNetworkWithFallback(w http.ResponseWriter, r *http.Request) {
	key := identity(r)

	ent, err := s.fetchOrigin(r)
	if err == nil {
		if ent.cacheable() {
			if err := s.static.Put(key, ent); err != nil {
				s.cacheErrLog.Printf("store static %s: %v", key, err)
			}
		}
		s.metrics.miss(routeFallback)
		s.writeEntry(w, ent, "miss")
		return
	}

	if cached, ok := s.registry.MatchAny(key); ok {
		s.metrics.hit(routeFallback)
		s.writeEntry(w, cached, "offline-hit")
		return
	}
	s.metrics.miss(routeFallback)
	s.writeNotAvailable(w)
}
