package sync

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency is the number of tenants synced in parallel.
const DefaultMaxConcurrency = 3

var tracer = otel.Tracer("github.com/homemade/cgmsync/sync")

// ReadingsFetcher retrieves raw readings for a tenant.
type ReadingsFetcher interface {
	FetchReadings(ctx context.Context, tenant Tenant, window SyncWindow) ([]RawReading, error)
}

// Destination is everything the orchestrator needs from a destination.
type Destination interface {
	StatusProber
	LatestEntryFetcher
	EntriesPoster
}

// Orchestrator runs the sync pipeline for every tenant.
// The caches it holds live for the whole process; construct it once.
type Orchestrator struct {
	*SyncContext
	Directory    *TenantDirectory
	Resolver     DestinationResolver
	Connectivity *ConnectivityCache
	Source       ReadingsFetcher
	Destination  Destination
}

// NewOrchestrator wires the source and destination API clients, both caches
// and the destination resolver.
func NewOrchestrator(sc *SyncContext, store ConfigStore) *Orchestrator {
	source := &SourceFetcher{SyncContext: sc}
	destination := &DestinationClient{SyncContext: sc}

	directory := NewTenantDirectory(source, sc.Settings.Sync.DirectoryTTL, sc.Settings.Sync.DirectoryMaxStale)
	directory.Clock = sc.Clock
	directory.Logger = sc.Logger
	connectivity := NewConnectivityCache(destination, sc.Settings.Sync.ConnectivityTTL)
	connectivity.Clock = sc.Clock
	connectivity.Logger = sc.Logger

	return &Orchestrator{
		SyncContext:  sc,
		Directory:    directory,
		Connectivity: connectivity,
		Resolver: DestinationResolver{
			Store:         store,
			DefaultDevice: sc.Settings.Destination.Device,
			Region:        sc.Credentials.Region(),
		},
		Source:      source,
		Destination: destination,
	}
}

// logWithTrace prefixes a log line with the trace id of the span in ctx.
func (o *Orchestrator) logWithTrace(ctx context.Context, format string, args ...any) {
	traceID := trace.SpanContextFromContext(ctx).TraceID().String()
	o.logger().Printf("trace_id=%s "+format, append([]any{traceID}, args...)...)
}

// Run calls RunOnce with the configured lookback and concurrency.
// This is the entry point for the scheduler.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	return o.RunOnce(ctx, o.Settings.Sync.LookbackHours, o.Settings.Sync.MaxConcurrency)
}

// RunOnce syncs every configured tenant and blocks until all are done.
// Per-tenant failures are reported in the result; the error is only set when
// the tenant directory itself is unavailable.
func (o *Orchestrator) RunOnce(ctx context.Context, lookbackHours int, maxConcurrency int) (RunResult, error) {
	started := time.Now()
	defer func() { runDuration.Observe(time.Since(started).Seconds()) }()

	ctx, span := tracer.Start(ctx, "sync.run")
	defer span.End()

	result := RunResult{PerTenantErrors: make(map[string]ErrorKind)}

	tenants, err := o.Directory.ListTenants(ctx, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logWithTrace(ctx, "Source Error: %v", err)
		return result, err
	}
	result.TenantsTotal = len(tenants)

	type job struct {
		tenant Tenant
		cfg    DestinationConfig
	}
	var jobs []job
	for _, tenant := range tenants {
		cfg, err := o.Resolver.Resolve(tenant.Email)
		if err != nil {
			o.logWithTrace(ctx, "Skipping tenant %s: %v", tenant.SourceUserID, err)
			tenantsProcessed.WithLabelValues("unconfigured").Inc()
			result.Tenants = append(result.Tenants, TenantResult{TenantID: tenant.SourceUserID, Email: tenant.Email, Err: err})
			continue
		}
		jobs = append(jobs, job{tenant: tenant, cfg: cfg})
	}
	result.TenantsConfigured = len(jobs)

	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	results := make(chan TenantResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			results <- o.syncTenant(ctx, j.tenant, j.cfg, lookbackHours)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		result.Tenants = append(result.Tenants, r)
		result.RecordsUploaded += r.Uploaded
		result.RecordsFailed += r.Failed
		result.RecordsSkipped += r.Skipped
		if r.Err != nil {
			result.PerTenantErrors[r.TenantID] = KindOf(r.Err)
			continue
		}
		result.TenantsSucceeded++
	}

	span.SetAttributes(
		attribute.Int("tenants.total", result.TenantsTotal),
		attribute.Int("tenants.succeeded", result.TenantsSucceeded),
		attribute.Int("records.uploaded", result.RecordsUploaded),
	)
	o.logWithTrace(ctx, "Run complete: %s", result)
	return result, nil
}

// syncTenant runs probe, watermark, fetch, map and upload for one tenant.
// Stages run in order and the first failure ends the tenant's run.
func (o *Orchestrator) syncTenant(ctx context.Context, tenant Tenant, cfg DestinationConfig, lookbackHours int) (result TenantResult) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sync.tenant", trace.WithAttributes(
		attribute.String("tenant.id", tenant.SourceUserID),
		attribute.String("destination.key", cfg.ConfigKey),
	))
	result = TenantResult{TenantID: tenant.SourceUserID, Email: tenant.Email, Configured: true}

	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("panic syncing tenant %s: %v", tenant.SourceUserID, p)
		}
		result.Duration = time.Since(started)
		recordsProcessed.WithLabelValues("uploaded").Add(float64(result.Uploaded))
		recordsProcessed.WithLabelValues("failed").Add(float64(result.Failed))
		recordsProcessed.WithLabelValues("skipped").Add(float64(result.Skipped))
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
			o.logWithTrace(ctx, "Tenant %s failed (retryable=%t): %v", tenant.SourceUserID, IsRetryable(result.Err), result.Err)
			tenantsProcessed.WithLabelValues("failed").Inc()
		} else {
			tenantsProcessed.WithLabelValues(result.Outcome()).Inc()
		}
		span.End()
	}()

	if !o.Connectivity.IsReachable(ctx, tenant, cfg) {
		result.Err = fmt.Errorf("%w: %s", ErrDestinationUnreachable, cfg.ConfigKey)
		return result
	}

	result.Window = ResolveWindow(ctx, o.Destination, cfg, lookbackHours, o.now())
	if result.Window.IsEmpty() {
		o.logWithTrace(ctx, "Tenant %s is up to date", tenant.SourceUserID)
		return result
	}

	raw, err := o.Source.FetchReadings(ctx, tenant, result.Window)
	if err != nil {
		result.Err = err
		return result
	}
	result.Fetched = len(raw)

	records, skipped := MapReadings(raw, cfg.DeviceLabel)
	result.Skipped = skipped
	if len(records) == 0 {
		return result
	}

	upload := Upload(ctx, o.Destination, cfg, records, o.Settings.Sync.BatchSize)
	result.Uploaded = upload.Succeeded
	result.Failed = upload.Failed
	result.Err = upload.Err()
	o.logWithTrace(ctx, "Tenant %s: fetched=%d skipped=%d uploaded=%d failed=%d window=%s",
		tenant.SourceUserID, result.Fetched, result.Skipped, result.Uploaded, result.Failed, result.Window)
	return result
}
