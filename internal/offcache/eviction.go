package offcache

import (
	"log"
	"sort"
)

// evictor enforces the byte ceiling on the videos bucket. It runs before
// each video write: when the stored total is over the ceiling it deletes
// oldest entries first until usage drops to the target ratio, leaving
// headroom instead of hovering at the limit.
type evictor struct {
	videos      *Bucket
	maxBytes    int64
	targetRatio float64
	metrics     *metricsSet
}

func newEvictor(videos *Bucket, maxBytes int64, targetRatio float64, metrics *metricsSet) *evictor {
	return &evictor{videos: videos, maxBytes: maxBytes, targetRatio: targetRatio, metrics: metrics}
}

// makeRoom frees space for an incoming entry of the given size. Only
// already-stored entries are candidates; the incoming entry itself is
// never evicted, so a bucket can momentarily hold a single entry above
// the target.
func (e *evictor) makeRoom(incoming int64) {
	items := e.videos.items()

	total := incoming
	for _, it := range items {
		total += it.size
	}
	if total <= e.maxBytes {
		return
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].cachedAt < items[j].cachedAt
	})

	target := int64(float64(e.maxBytes) * e.targetRatio)
	for _, it := range items {
		if total <= target {
			break
		}
		if !e.videos.Delete(it.url) {
			continue
		}
		total -= it.size
		log.Printf("evicted video %s (%s)", it.url, formatSize(it.size))
		if e.metrics != nil {
			e.metrics.evictions.Inc()
			e.metrics.evictedBytes.Add(float64(it.size))
		}
	}
}
