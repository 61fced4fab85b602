package offcache

import (
	"context"
	"log"
	"strings"
	"sync"
)

type lifecycleState int

const (
	StateInstalling lifecycleState = iota
	StateWaiting
	StateActive
)

func (s lifecycleState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "installing"
	}
}

// Lifecycle drives the install/activate transitions. The host (main or a
// test) calls OnInstall and OnActivate; SKIP_WAITING control messages
// force the waiting state to end early.
type Lifecycle struct {
	registry *Registry
	static   *Bucket
	assets   []string
	fetch    func(ctx context.Context, path string) (Entry, error)

	mu            sync.Mutex
	state         lifecycleState
	skipRequested bool
}

func newLifecycle(registry *Registry, static *Bucket, assets []string, fetch func(context.Context, string) (Entry, error)) *Lifecycle {
	return &Lifecycle{registry: registry, static: static, assets: assets, fetch: fetch}
}

func (l *Lifecycle) State() lifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnInstall precaches the critical assets into the static bucket and
// signals immediate activation eligibility. Asset failures are logged
// and skipped: installation never wedges the edge, it just starts with a
// thinner shell.
func (l *Lifecycle) OnInstall(ctx context.Context) {
	l.setState(StateInstalling)
	l.precache(ctx)
	l.setState(StateWaiting)
	l.SkipWaiting()
}

func (l *Lifecycle) precache(ctx context.Context) {
	for _, path := range l.assets {
		ent, err := l.fetch(ctx, path)
		if err != nil {
			log.Printf("precache %s: %v", path, err)
			continue
		}
		if !ent.cacheable() {
			log.Printf("precache %s: status %d, skipped", path, ent.Status)
			continue
		}
		if err := l.static.Put(path, ent); err != nil {
			log.Printf("precache %s: store: %v", path, err)
		}
	}
}

// SkipWaiting marks the worker eligible to activate without waiting for
// the previous version's pages to close.
func (l *Lifecycle) SkipWaiting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateWaiting {
		l.skipRequested = true
	}
}

// skipPending reports whether a waiting worker has been told to activate.
func (l *Lifecycle) skipPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateWaiting && l.skipRequested
}

// OnActivate deletes buckets left behind by earlier version tags, then
// takes over. Only buckets under this deployment's namespace are
// touched.
func (l *Lifecycle) OnActivate(ctx context.Context) {
	current := map[string]bool{}
	for _, name := range l.registry.CurrentNames() {
		current[name] = true
	}

	prefix := l.registry.namespace + "-"
	for _, name := range l.registry.ListBucketNames() {
		if !strings.HasPrefix(name, prefix) || current[name] {
			continue
		}
		if err := l.registry.DeleteBucket(name); err != nil {
			log.Printf("delete stale bucket %s: %v", name, err)
			continue
		}
		log.Printf("deleted stale bucket %s", name)
	}

	l.setState(StateActive)
}

func (l *Lifecycle) setState(s lifecycleState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}
