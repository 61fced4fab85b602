package offcache

import (
	"net/http"
	"strconv"
	"time"
)

// cachedAtHeader carries the store timestamp (epoch milliseconds). API
// entries use it for the TTL check, video entries for eviction ordering.
const cachedAtHeader = "Sw-Cached-At"

// Entry is one stored response: status, headers and the full body.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e Entry) ok() bool {
	return e.Status >= 200 && e.Status < 300
}

// cacheable reports whether the entry may be written to a bucket.
// Partial (206) responses describe incomplete resources and are never stored.
func (e Entry) cacheable() bool {
	return e.ok() && e.Status != http.StatusPartialContent
}

// size is the entry's accounted byte size, taken from Content-Length.
// Absent or malformed headers count as zero.
func (e Entry) size() int64 {
	v := e.Header.Get("Content-Length")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// cachedAt returns the store timestamp in epoch ms, zero when unstamped.
// An unstamped entry is maximally stale: it fails any TTL check and is
// first in line for eviction.
func (e Entry) cachedAt() int64 {
	v := e.Header.Get(cachedAtHeader)
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// stamped returns a copy of the entry with the store timestamp set. The
// header map is cloned so the caller's entry stays untouched and the
// client keeps receiving the unstamped original.
func (e Entry) stamped(now time.Time) Entry {
	out := e
	out.Header = e.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(cachedAtHeader, strconv.FormatInt(now.UnixMilli(), 10))
	return out
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
