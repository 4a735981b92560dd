package swarm

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleGate enforces the spawn-rate limits: separate sliding windows of
// one second and one minute over recorded spawn times, plus a minimum
// interval between spawns.
type throttleGate struct {
	cfg ThrottleConfig

	mu     sync.Mutex
	spawns []time.Time
	// limiter carries the min-spawn-interval; a positive Allow reserves
	// the next interval slot.
	limiter *rate.Limiter

	now func() time.Time
}

func newThrottleGate(cfg ThrottleConfig) *throttleGate {
	g := &throttleGate{cfg: cfg, now: time.Now}
	if cfg.MinSpawnIntervalMs > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.MinSpawnIntervalMs)*time.Millisecond), 1)
	}
	return g
}

// Allow reports whether a spawn may proceed now. A positive answer reserves
// the min-interval slot, so callers must only ask when they intend to spawn.
func (g *throttleGate) Allow() (bool, string) {
	if !g.cfg.Enabled {
		return true, ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	if g.cfg.MaxAgentsPerSecond > 0 && g.countSince(now.Add(-time.Second)) >= g.cfg.MaxAgentsPerSecond {
		return false, "per-second spawn limit reached"
	}
	if g.cfg.MaxAgentsPerMinute > 0 && len(g.spawns) >= g.cfg.MaxAgentsPerMinute {
		return false, "per-minute spawn limit reached"
	}
	if g.limiter != nil && !g.limiter.AllowN(now, 1) {
		return false, "minimum spawn interval not elapsed"
	}
	return true, ""
}

// Record notes a spawn for both windows.
func (g *throttleGate) Record() {
	if !g.cfg.Enabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.spawns = append(g.spawns, now)
	g.prune(now)
}

// prune drops entries older than the minute window. The one-second window is
// counted from the retained slice.
func (g *throttleGate) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	idx := 0
	for idx < len(g.spawns) && g.spawns[idx].Before(cutoff) {
		idx++
	}
	g.spawns = g.spawns[idx:]
}

func (g *throttleGate) countSince(cutoff time.Time) int {
	count := 0
	for i := len(g.spawns) - 1; i >= 0; i-- {
		if g.spawns[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}
