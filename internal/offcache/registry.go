package offcache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Logical bucket names. Physical names add the namespace and version tag,
// so entries written by a prior deployment stay on disk until activation
// cleanup removes them.
const (
	bucketStatic = "static"
	bucketVideos = "videos"
	bucketAPI    = "api"
	bucketImages = "images"
)

var logicalBuckets = []string{bucketStatic, bucketVideos, bucketAPI, bucketImages}

func isLogicalBucket(name string) bool {
	for _, b := range logicalBuckets {
		if b == name {
			return true
		}
	}
	return false
}

var errNotCacheable = fmt.Errorf("response is not cacheable")

type entryMeta struct {
	Size     int64
	CachedAt int64 // epoch ms, 0 when unstamped
}

// Registry owns the leveldb database backing all buckets. Entry records
// live under "e:<physical>|<url>" with a small meta record under
// "m:<physical>|<url>" so sizes and timestamps are available without
// decoding bodies.
type Registry struct {
	db        *leveldb.DB
	namespace string
	version   string

	mu    sync.RWMutex
	index map[string]map[string]entryMeta // physical -> url -> meta
}

func OpenRegistry(dataDir, namespace, version string) (*Registry, error) {
	db, err := leveldb.OpenFile(dataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	r := &Registry{
		db:        db,
		namespace: namespace,
		version:   version,
		index:     map[string]map[string]entryMeta{},
	}
	if err := r.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// PhysicalName computes the on-disk bucket name for a logical bucket at
// the registry's version tag.
func (r *Registry) PhysicalName(logical string) string {
	return r.namespace + "-" + logical + "-" + r.version
}

// CurrentNames lists the physical names of the four current buckets.
func (r *Registry) CurrentNames() []string {
	out := make([]string, 0, len(logicalBuckets))
	for _, l := range logicalBuckets {
		out = append(out, r.PhysicalName(l))
	}
	return out
}

func (r *Registry) Bucket(logical string) *Bucket {
	return &Bucket{reg: r, physical: r.PhysicalName(logical)}
}

func (r *Registry) loadIndex() error {
	it := r.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()

	idx := map[string]map[string]entryMeta{}
	for it.Next() {
		rest := bytes.TrimPrefix(it.Key(), []byte("m:"))
		sep := bytes.IndexByte(rest, '|')
		if sep < 0 {
			continue
		}
		physical := string(rest[:sep])
		url := string(rest[sep+1:])
		var meta entryMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		if idx[physical] == nil {
			idx[physical] = map[string]entryMeta{}
		}
		idx[physical][url] = meta
	}
	if err := it.Error(); err != nil {
		return err
	}
	r.mu.Lock()
	r.index = idx
	r.mu.Unlock()
	return nil
}

// MatchAny scans the current buckets in a fixed order and returns the
// first entry stored under url. Used by the catch-all fallback.
func (r *Registry) MatchAny(url string) (Entry, bool) {
	for _, logical := range logicalBuckets {
		if ent, ok := r.Bucket(logical).Match(url); ok {
			return ent, true
		}
	}
	return Entry{}, false
}

// ListBucketNames lists every physical bucket present in the database,
// including leftovers from prior version tags.
func (r *Registry) ListBucketNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.index))
	for name, entries := range r.index {
		if len(entries) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// DeleteBucket removes every entry of a physical bucket.
func (r *Registry) DeleteBucket(physical string) error {
	prefix := physical + "|"

	r.mu.Lock()
	urls := make([]string, 0, len(r.index[physical]))
	for url := range r.index[physical] {
		urls = append(urls, url)
	}
	delete(r.index, physical)
	r.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, url := range urls {
		batch.Delete([]byte("e:" + prefix + url))
		batch.Delete([]byte("m:" + prefix + url))
	}
	return r.db.Write(batch, nil)
}

// Bucket is a named view over the registry's store.
type Bucket struct {
	reg      *Registry
	physical string
}

func (b *Bucket) Name() string { return b.physical }

func (b *Bucket) entryKey(url string) []byte { return []byte("e:" + b.physical + "|" + url) }
func (b *Bucket) metaKey(url string) []byte  { return []byte("m:" + b.physical + "|" + url) }

func (b *Bucket) Match(url string) (Entry, bool) {
	raw, err := b.reg.db.Get(b.entryKey(url), nil)
	if err != nil {
		return Entry{}, false
	}
	var ent Entry
	if err := decodeGob(raw, &ent); err != nil {
		return Entry{}, false
	}
	return ent, true
}

// Put stores an entry. Non-2xx and partial (206) responses are refused so
// a failed upstream can never shadow a previously good entry.
func (b *Bucket) Put(url string, ent Entry) error {
	if !ent.cacheable() {
		return errNotCacheable
	}
	raw, err := encodeGob(ent)
	if err != nil {
		return err
	}
	meta := entryMeta{Size: ent.size(), CachedAt: ent.cachedAt()}
	rawMeta, err := encodeGob(meta)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(b.entryKey(url), raw)
	batch.Put(b.metaKey(url), rawMeta)
	if err := b.reg.db.Write(batch, nil); err != nil {
		return err
	}

	b.reg.mu.Lock()
	if b.reg.index[b.physical] == nil {
		b.reg.index[b.physical] = map[string]entryMeta{}
	}
	b.reg.index[b.physical][url] = meta
	b.reg.mu.Unlock()
	return nil
}

func (b *Bucket) Delete(url string) bool {
	b.reg.mu.Lock()
	_, existed := b.reg.index[b.physical][url]
	delete(b.reg.index[b.physical], url)
	b.reg.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete(b.entryKey(url))
	batch.Delete(b.metaKey(url))
	if err := b.reg.db.Write(batch, nil); err != nil {
		return false
	}
	return existed
}

func (b *Bucket) Keys() []string {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	out := make([]string, 0, len(b.reg.index[b.physical]))
	for url := range b.reg.index[b.physical] {
		out = append(out, url)
	}
	return out
}

func (b *Bucket) Count() int {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	return len(b.reg.index[b.physical])
}

// TotalSize sums the Content-Length-derived sizes of all entries.
func (b *Bucket) TotalSize() int64 {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	var total int64
	for _, meta := range b.reg.index[b.physical] {
		total += meta.Size
	}
	return total
}

type entryItem struct {
	url      string
	size     int64
	cachedAt int64
}

// items snapshots the bucket's metadata for eviction ranking.
func (b *Bucket) items() []entryItem {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	out := make([]entryItem, 0, len(b.reg.index[b.physical]))
	for url, meta := range b.reg.index[b.physical] {
		out = append(out, entryItem{url: url, size: meta.Size, cachedAt: meta.CachedAt})
	}
	return out
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
