//go:build !linux

package offcache

func processRSSBytes() (rssBytes uint64, ok bool) {
	return 0, false
}
