package reconciler

import (
	"sync"
	"time"
)

// Guard keeps runs for the same tenant from overlapping and spaces successful
// runs at least minInterval apart. A failed run may be retried right away.
type Guard struct {
	mu          sync.Mutex
	minInterval time.Duration
	running     map[string]bool
	lastSuccess map[string]time.Time
	now         func() time.Time
}

// NewGuard creates a guard
func NewGuard(minInterval time.Duration) *Guard {
	return &Guard{
		minInterval: minInterval,
		running:     make(map[string]bool),
		lastSuccess: make(map[string]time.Time),
		now:         time.Now,
	}
}

// TryAcquire reserves a run for tenant. When ok, release must be called with
// whether the run succeeded.
func (g *Guard) TryAcquire(tenant string) (release func(success bool), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[tenant] {
		return nil, false
	}
	if last, seen := g.lastSuccess[tenant]; seen && g.now().Sub(last) < g.minInterval {
		return nil, false
	}

	g.running[tenant] = true
	started := g.now()

	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.running, tenant)
			if success {
				g.lastSuccess[tenant] = started
			}
		})
	}, true
}
