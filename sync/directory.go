package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tenant is a source account whose readings are synced to its own destination.
type Tenant struct {
	SourceUserID string
	Email        string
}

// ParseTenants converts directory rows into tenants. Rows without an
// identity or an id are dropped and counted.
func ParseTenants(rows []Source) (tenants []Tenant, dropped int) {
	tenants = make([]Tenant, 0, len(rows))
	for _, row := range rows {
		email, hasEmail := TenantIdentityFields.LookupString(row)
		id, hasID := TenantIDFields.LookupString(row)
		if !hasEmail || !hasID {
			dropped++
			continue
		}
		tenants = append(tenants, Tenant{SourceUserID: id, Email: email})
	}
	return tenants, dropped
}

// DirectoryFetcher fetches the raw tenant directory from the source.
type DirectoryFetcher interface {
	FetchDirectory(ctx context.Context) ([]Source, error)
}

// TenantDirectory caches the tenant list. The source is called at most once
// per TTL and concurrent callers share a single in-flight refresh. When a
// refresh fails the previous list is served until it is older than MaxStale.
type TenantDirectory struct {
	Fetcher  DirectoryFetcher
	TTL      time.Duration
	MaxStale time.Duration
	Clock    func() time.Time
	Logger   *log.Logger

	mu        gosync.Mutex
	tenants   []Tenant
	fetchedAt time.Time
	group     singleflight.Group
	dropped   atomic.Int64
	refreshes atomic.Int64
}

// NewTenantDirectory creates a TenantDirectory with the given freshness bounds.
func NewTenantDirectory(fetcher DirectoryFetcher, ttl, maxStale time.Duration) *TenantDirectory {
	return &TenantDirectory{
		Fetcher:  fetcher,
		TTL:      ttl,
		MaxStale: maxStale,
	}
}

func (d *TenantDirectory) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *TenantDirectory) logger() *log.Logger {
	return loggerOrDefault(d.Logger)
}

// cached returns the cached list if one exists and is younger than maxAge.
func (d *TenantDirectory) cached(maxAge time.Duration) ([]Tenant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fetchedAt.IsZero() || d.now().Sub(d.fetchedAt) >= maxAge {
		return nil, false
	}
	return d.tenants, true
}

// ListTenants returns the known tenants, refreshing from the source when the
// cache is older than TTL or forceRefresh is set.
func (d *TenantDirectory) ListTenants(ctx context.Context, forceRefresh bool) ([]Tenant, error) {
	if !forceRefresh {
		if tenants, ok := d.cached(d.TTL); ok {
			return tenants, nil
		}
	}
	v, err, _ := d.group.Do("directory", func() (interface{}, error) {
		// a refresh that completed while we waited is good enough
		if !forceRefresh {
			if tenants, ok := d.cached(d.TTL); ok {
				return tenants, nil
			}
		}
		return d.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Tenant), nil
}

func (d *TenantDirectory) refresh(ctx context.Context) ([]Tenant, error) {
	d.refreshes.Add(1)
	directoryRefreshes.Inc()
	rows, err := d.Fetcher.FetchDirectory(ctx)
	if err != nil {
		if tenants, ok := d.cached(d.MaxStale); ok {
			d.logger().Printf("Source Error: directory refresh failed, serving cached list: %v", err)
			return tenants, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	tenants, dropped := ParseTenants(rows)
	if dropped > 0 {
		d.dropped.Add(int64(dropped))
		directoryDroppedEntries.Add(float64(dropped))
		d.logger().Printf("Warning: dropped %d directory entries without identity or id", dropped)
	}

	d.mu.Lock()
	d.tenants = tenants
	d.fetchedAt = d.now()
	d.mu.Unlock()
	return tenants, nil
}

// Dropped returns the number of directory rows dropped so far.
func (d *TenantDirectory) Dropped() int64 {
	return d.dropped.Load()
}

// Refreshes returns the number of source calls made so far.
func (d *TenantDirectory) Refreshes() int64 {
	return d.refreshes.Load()
}
