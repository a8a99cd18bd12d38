package sync

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StatusProber probes a destination for reachability.
type StatusProber interface {
	ProbeStatus(ctx context.Context, cfg DestinationConfig) error
}

type probeResult struct {
	reachable bool
	checkedAt time.Time
}

// ConnectivityCache remembers destination probe results per tenant and
// destination for TTL. A cached true may hide an outage for up to TTL; the
// upload then fails and is retried on the next run.
type ConnectivityCache struct {
	Prober StatusProber
	TTL    time.Duration
	Clock  func() time.Time
	Logger *log.Logger

	mu      gosync.Mutex
	results map[string]probeResult
	group   singleflight.Group
}

// NewConnectivityCache creates a ConnectivityCache with the given TTL.
func NewConnectivityCache(prober StatusProber, ttl time.Duration) *ConnectivityCache {
	return &ConnectivityCache{
		Prober:  prober,
		TTL:     ttl,
		results: make(map[string]probeResult),
	}
}

func (c *ConnectivityCache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *ConnectivityCache) logger() *log.Logger {
	return loggerOrDefault(c.Logger)
}

func connectivityKey(tenant Tenant, cfg DestinationConfig) string {
	return tenant.SourceUserID + "|" + cfg.BaseURL
}

func (c *ConnectivityCache) cached(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, exists := c.results[key]
	if !exists || c.now().Sub(r.checkedAt) >= c.TTL {
		return false, false
	}
	return r.reachable, true
}

// IsReachable reports whether the tenant's destination answered its last
// probe. At most one probe per key is in flight at a time.
func (c *ConnectivityCache) IsReachable(ctx context.Context, tenant Tenant, cfg DestinationConfig) bool {
	key := connectivityKey(tenant, cfg)
	if reachable, ok := c.cached(key); ok {
		return reachable
	}
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if reachable, ok := c.cached(key); ok {
			return reachable, nil
		}
		err := c.Prober.ProbeStatus(ctx, cfg)
		reachable := err == nil
		if err != nil {
			c.logger().Printf("Destination Error: %s unreachable: %v", cfg.ConfigKey, err)
			connectivityProbes.WithLabelValues("unreachable").Inc()
		} else {
			connectivityProbes.WithLabelValues("reachable").Inc()
		}
		c.mu.Lock()
		if c.results == nil {
			c.results = make(map[string]probeResult)
		}
		c.results[key] = probeResult{reachable: reachable, checkedAt: c.now()}
		c.mu.Unlock()
		return reachable, nil
	})
	return v.(bool)
}
