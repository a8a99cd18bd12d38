package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeReadingsFetcher struct {
	mu       gosync.Mutex
	windows  map[string]SyncWindow
	failures map[string]error
}

func (f *fakeReadingsFetcher) FetchReadings(ctx context.Context, tenant Tenant, window SyncWindow) ([]RawReading, error) {
	f.mu.Lock()
	if f.windows == nil {
		f.windows = make(map[string]SyncWindow)
	}
	f.windows[tenant.SourceUserID] = window
	f.mu.Unlock()
	if err := f.failures[tenant.SourceUserID]; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceRequestFailed, err)
	}
	return []RawReading{
		NewRawReading(fmt.Sprintf(`{"adjustGlucose":5.5,"monitorTime":%d}`, window.EndMillis-600000)),
		NewRawReading(fmt.Sprintf(`{"adjustGlucose":6.0,"monitorTime":%d,"trend":"2"}`, window.EndMillis-300000)),
		NewRawReading(`{"monitorTime":1}`),
	}, nil
}

type fakeDestination struct {
	fakeProber
	latest map[string]int64

	mu     gosync.Mutex
	posted map[string][]CanonicalRecord
}

func (d *fakeDestination) FetchLatestEntry(ctx context.Context, cfg DestinationConfig) (int64, bool) {
	millis, found := d.latest[cfg.BaseURL]
	return millis, found
}

func (d *fakeDestination) PostEntries(ctx context.Context, cfg DestinationConfig, batch []CanonicalRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.posted == nil {
		d.posted = make(map[string][]CanonicalRecord)
	}
	d.posted[cfg.BaseURL] = append(d.posted[cfg.BaseURL], batch...)
	return nil
}

func (d *fakeDestination) postedTo(url string) []CanonicalRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.posted[url]
}

func threeTenantDirectory() *fakeDirectoryFetcher {
	return &fakeDirectoryFetcher{rows: []Source{
		NewSource(`{"fromUserId":"1","fromUserEmail":"one@example.com"}`),
		NewSource(`{"fromUserId":"2","fromUserEmail":"two@example.com"}`),
		NewSource(`{"fromUserId":"3","fromUserEmail":"three@example.com"}`),
	}}
}

func threeTenantStore() MapConfigStore {
	store := MapConfigStore{}
	for _, name := range []string{"one", "two", "three"} {
		store["DEST_URL__"+name] = "https://" + name + ".example.net"
		store["DEST_SECRET__"+name] = name + "-secret"
	}
	return store
}

func newTestOrchestrator(fetcher DirectoryFetcher, store ConfigStore, source ReadingsFetcher, dest Destination, clock *fakeClock) *Orchestrator {
	return newLoggingTestOrchestrator(fetcher, store, source, dest, clock, io.Discard)
}

func newLoggingTestOrchestrator(fetcher DirectoryFetcher, store ConfigStore, source ReadingsFetcher, dest Destination, clock *fakeClock, w io.Writer) *Orchestrator {
	logger := log.New(w, "", 0)
	sc := &SyncContext{Settings: testSettings(), Clock: clock.Now, Logger: logger}
	directory := NewTenantDirectory(fetcher, sc.Settings.Sync.DirectoryTTL, sc.Settings.Sync.DirectoryMaxStale)
	directory.Clock = clock.Now
	directory.Logger = logger
	connectivity := NewConnectivityCache(dest, sc.Settings.Sync.ConnectivityTTL)
	connectivity.Clock = clock.Now
	connectivity.Logger = logger
	return &Orchestrator{
		SyncContext:  sc,
		Directory:    directory,
		Resolver:     DestinationResolver{Store: store, DefaultDevice: "uploader"},
		Connectivity: connectivity,
		Source:       source,
		Destination:  dest,
	}
}

// capturePackageLog redirects the package logger for the duration of the test.
func capturePackageLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(os.Stderr) })
	return &buf
}

func TestOrchestrator_TenantFailureIsIsolated(t *testing.T) {
	clock := newFakeClock(testNow)
	source := &fakeReadingsFetcher{failures: map[string]error{"2": errors.New("503 service unavailable")}}
	dest := &fakeDestination{}
	o := newTestOrchestrator(threeTenantDirectory(), threeTenantStore(), source, dest, clock)

	result, err := o.RunOnce(context.Background(), 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TenantsTotal)
	assert.Equal(t, 3, result.TenantsConfigured)
	assert.Equal(t, 2, result.TenantsSucceeded)
	assert.Equal(t, 4, result.RecordsUploaded)
	assert.Equal(t, 2, result.RecordsSkipped)
	assert.Equal(t, map[string]ErrorKind{"2": KindSourceRequestFailed}, result.PerTenantErrors)

	assert.Len(t, dest.postedTo("https://one.example.net"), 2)
	assert.Empty(t, dest.postedTo("https://two.example.net"))
	assert.Len(t, dest.postedTo("https://three.example.net"), 2)

	records := dest.postedTo("https://one.example.net")
	assert.Equal(t, 99, records[0].ValueMgDl)
	assert.Equal(t, SingleUp, records[1].Direction)
	assert.Equal(t, "uploader", records[1].Device)
}

func TestOrchestrator_WindowFollowsWatermark(t *testing.T) {
	clock := newFakeClock(testNow)
	latest := testNow.Add(-20 * time.Minute).UnixMilli()
	source := &fakeReadingsFetcher{}
	dest := &fakeDestination{latest: map[string]int64{"https://one.example.net": latest}}
	o := newTestOrchestrator(threeTenantDirectory(), threeTenantStore(), source, dest, clock)

	_, err := o.RunOnce(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Equal(t, SyncWindow{StartMillis: latest + 1, EndMillis: testNow.UnixMilli()}, source.windows["1"])
	assert.Equal(t, SyncWindow{StartMillis: testNow.Add(-5 * time.Hour).UnixMilli(), EndMillis: testNow.UnixMilli()}, source.windows["2"])
}

func TestOrchestrator_UnconfiguredAndUnreachable(t *testing.T) {
	clock := newFakeClock(testNow)
	store := threeTenantStore()
	delete(store, "DEST_SECRET__three")
	source := &fakeReadingsFetcher{}
	dest := &fakeDestination{}
	dest.setDown("https://two.example.net", true)
	o := newTestOrchestrator(threeTenantDirectory(), store, source, dest, clock)

	result, err := o.RunOnce(context.Background(), 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TenantsTotal)
	assert.Equal(t, 2, result.TenantsConfigured)
	assert.Equal(t, 1, result.TenantsSucceeded)
	assert.Equal(t, map[string]ErrorKind{"2": KindDestinationUnreachable}, result.PerTenantErrors)
	assert.Len(t, result.Tenants, 3)

	_, fetched := source.windows["2"]
	assert.False(t, fetched)
	_, fetched = source.windows["3"]
	assert.False(t, fetched)

	csv, err := result.FormatCSV()
	require.NoError(t, err)
	assert.Contains(t, csv, "3,three@example.com,unconfigured,,0,0,0,0,NotConfigured")
	assert.Contains(t, csv, "2,two@example.com,failed,,0,0,0,0,DestinationUnreachable")
}

func TestOrchestrator_UpToDateTenantSkipsFetch(t *testing.T) {
	clock := newFakeClock(testNow)
	source := &fakeReadingsFetcher{}
	dest := &fakeDestination{latest: map[string]int64{
		"https://one.example.net":   testNow.UnixMilli(),
		"https://two.example.net":   testNow.UnixMilli(),
		"https://three.example.net": testNow.UnixMilli(),
	}}
	o := newTestOrchestrator(threeTenantDirectory(), threeTenantStore(), source, dest, clock)

	result, err := o.RunOnce(context.Background(), 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TenantsSucceeded)
	assert.Zero(t, result.RecordsUploaded)
	assert.Empty(t, source.windows)
	for _, tenant := range result.Tenants {
		assert.Equal(t, "up-to-date", tenant.Outcome())
	}
}

func TestOrchestrator_DirectoryUnavailable(t *testing.T) {
	fetcher := &fakeDirectoryFetcher{}
	fetcher.fail(errors.New("connection reset"))
	o := newTestOrchestrator(fetcher, threeTenantStore(), &fakeReadingsFetcher{}, &fakeDestination{}, newFakeClock(testNow))

	_, err := o.RunOnce(context.Background(), 5, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	var mu gosync.Mutex
	var uploaded []gjson.Result

	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-secret") != SecretDigest("alice-secret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/v1/status.json":
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		case r.URL.Path == "/api/v1/entries/sgv.json":
			_, _ = io.WriteString(w, `[]`)
		case r.URL.Path == "/api/v1/entries" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded = append(uploaded, gjson.ParseBytes(body).Array()...)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":1}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer destination.Close()

	end := testNow.UnixMilli()
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/link/application/app/tagFromInviteLink/linkQueryList/v2":
			_, _ = io.WriteString(w, `{"code":0,"data":[
				{"fromUserId":"11","fromUserEmail":"alice@example.com"},
				{"fromUserId":"12","fromUserEmail":"nobody@example.com"},
				{"fromUserId":"13"}]}`)
		case "/link/application/search/tag/queryMonitorBase":
			assert.Equal(t, "11", r.URL.Query().Get("fromUserId"))
			assert.Equal(t, fmt.Sprint(end-5*3600000), r.URL.Query().Get("startTime"))
			_, _ = fmt.Fprintf(w, `{"code":200,"data":{"curveList":[
				{"adjustGlucose":5.5,"monitorTime":%d,"trend":4},
				{"adjustGlucose":7.0,"monitorTime":%d,"trend":3}]}}`, end-600000, end-300000)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer source.Close()

	store := MapConfigStore{
		"SOURCE_BASE_URL":                source.URL,
		"SOURCE_TOKEN":                   "source-token",
		"DEST_URL__alice_example_com":    destination.URL,
		"DEST_SECRET__alice_example_com": "alice-secret",
	}
	settings, err := LoadSettings(store)
	require.NoError(t, err)
	creds, err := LoadSourceCredentials(store, settings.Source)
	require.NoError(t, err)

	var logs bytes.Buffer
	packageLog := capturePackageLog(t)
	sc := &SyncContext{Settings: settings, Credentials: creds, Clock: newFakeClock(testNow).Now, Logger: log.New(&logs, "", 0)}
	o := NewOrchestrator(sc, store)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.TenantsTotal)
	assert.Equal(t, 1, result.TenantsConfigured)
	assert.Equal(t, 1, result.TenantsSucceeded)
	assert.Equal(t, 2, result.RecordsUploaded)
	assert.Empty(t, result.PerTenantErrors)
	assert.Equal(t, int64(1), o.Directory.Dropped())

	require.Len(t, uploaded, 2)
	assert.Equal(t, int64(99), uploaded[0].Get("sgv").Int())
	assert.Equal(t, "Flat", uploaded[0].Get("direction").String())
	assert.Equal(t, int64(126), uploaded[1].Get("sgv").Int())
	assert.Equal(t, "FortyFiveUp", uploaded[1].Get("direction").String())
	assert.Equal(t, "Ottai-Nightscout-Uploader", uploaded[1].Get("device").String())

	// the dropped row and the unconfigured tenant are reported on the injected logger only
	assert.Contains(t, logs.String(), "Warning: dropped 1 directory entries")
	assert.Contains(t, logs.String(), "Skipping tenant 12")
	assert.Empty(t, packageLog.String())
}

// concurrencyTracker records the peak number of FetchReadings calls running at once.
type concurrencyTracker struct {
	delay  time.Duration
	active atomic.Int64
	peak   atomic.Int64
	calls  atomic.Int64
}

func (f *concurrencyTracker) FetchReadings(ctx context.Context, tenant Tenant, window SyncWindow) ([]RawReading, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.calls.Add(1)
	time.Sleep(f.delay)
	return nil, nil
}

func manyTenants(n int) (*fakeDirectoryFetcher, MapConfigStore) {
	fetcher := &fakeDirectoryFetcher{}
	store := MapConfigStore{}
	for i := 0; i < n; i++ {
		fetcher.rows = append(fetcher.rows, NewSource(fmt.Sprintf(`{"fromUserId":"%d","fromUserEmail":"t%d@example.com"}`, i, i)))
		store[fmt.Sprintf("DEST_URL__t%d", i)] = fmt.Sprintf("https://t%d.example.net", i)
		store[fmt.Sprintf("DEST_SECRET__t%d", i)] = "secret"
	}
	return fetcher, store
}

func TestOrchestrator_WorkerPoolIsBounded(t *testing.T) {
	for _, maxConcurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("max %d", maxConcurrency), func(t *testing.T) {
			fetcher, store := manyTenants(10)
			source := &concurrencyTracker{delay: 30 * time.Millisecond}
			o := newTestOrchestrator(fetcher, store, source, &fakeDestination{}, newFakeClock(testNow))

			result, err := o.RunOnce(context.Background(), 5, maxConcurrency)
			require.NoError(t, err)
			assert.Equal(t, 10, result.TenantsSucceeded)
			assert.Equal(t, int64(10), source.calls.Load())
			assert.LessOrEqual(t, source.peak.Load(), int64(maxConcurrency))
			assert.GreaterOrEqual(t, source.peak.Load(), int64(1))
		})
	}
}

func TestOrchestrator_LogsGoToInjectedLogger(t *testing.T) {
	packageLog := capturePackageLog(t)
	var logs bytes.Buffer
	source := &fakeReadingsFetcher{failures: map[string]error{"3": errors.New("timeout")}}
	dest := &fakeDestination{}
	dest.setDown("https://two.example.net", true)
	o := newLoggingTestOrchestrator(threeTenantDirectory(), threeTenantStore(), source, dest, newFakeClock(testNow), &logs)

	_, err := o.RunOnce(context.Background(), 5, 3)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Destination Error: two unreachable")
	assert.Contains(t, logs.String(), "Tenant 3 failed (retryable=true)")
	assert.Contains(t, logs.String(), "trace_id=")
	assert.Empty(t, packageLog.String())
}
