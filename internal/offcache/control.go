package offcache

import "context"

// Control message types, matching the page-facing protocol.
const (
	MsgSkipWaiting = "SKIP_WAITING"
	MsgClearCache  = "CLEAR_CACHE"
	MsgCacheStats  = "CACHE_STATS"
)

// Message is one control command. Reply, when non-nil, receives exactly
// one value for commands that answer; messages with an unrecognized Type
// are dropped silently.
type Message struct {
	Type  string
	Reply chan<- any
}

// ClearCacheReply acknowledges a CLEAR_CACHE command.
type ClearCacheReply struct {
	Success bool `json:"success"`
}

// BucketStats is the per-bucket portion of a CACHE_STATS reply.
type BucketStats struct {
	Entries       int    `json:"entries"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
}

// Post queues a control message. It never blocks past service shutdown.
func (s *Service) Post(msg Message) {
	select {
	case s.control <- msg:
	case <-s.stopCh:
	}
}

func (s *Service) controlLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case msg := <-s.control:
			s.dispatchControl(msg)
		}
	}
}

func (s *Service) dispatchControl(msg Message) {
	switch msg.Type {
	case MsgSkipWaiting:
		s.lifecycle.SkipWaiting()
		if s.lifecycle.skipPending() {
			s.lifecycle.OnActivate(context.Background())
		}
	case MsgClearCache:
		ok := s.clearCurrentBuckets()
		if msg.Reply != nil {
			msg.Reply <- ClearCacheReply{Success: ok}
		}
	case MsgCacheStats:
		if msg.Reply != nil {
			msg.Reply <- s.cacheStats()
		}
	}
}

// clearCurrentBuckets drops all four buckets of the current version tag.
func (s *Service) clearCurrentBuckets() bool {
	ok := true
	for _, name := range s.registry.CurrentNames() {
		if err := s.registry.DeleteBucket(name); err != nil {
			s.cacheErrLog.Printf("clear bucket %s: %v", name, err)
			ok = false
		}
	}
	return ok
}

func (s *Service) cacheStats() map[string]BucketStats {
	out := make(map[string]BucketStats, len(logicalBuckets))
	for _, logical := range logicalBuckets {
		b := s.registry.Bucket(logical)
		size := b.TotalSize()
		out[logical] = BucketStats{
			Entries:       b.Count(),
			Size:          size,
			SizeFormatted: formatSize(size),
		}
	}
	return out
}
