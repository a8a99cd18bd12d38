package sync

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// TenantResult is the outcome of syncing one tenant.
type TenantResult struct {
	TenantID   string
	Email      string
	Configured bool
	Window     SyncWindow
	Fetched    int
	Skipped    int
	Uploaded   int
	Failed     int
	Duration   time.Duration
	Err        error
}

// Outcome is a short label for the result.
func (r TenantResult) Outcome() string {
	switch {
	case !r.Configured:
		return "unconfigured"
	case r.Err != nil:
		return "failed"
	case r.Window.IsEmpty():
		return "up-to-date"
	default:
		return "synced"
	}
}

// RunResult aggregates one run over all tenants.
type RunResult struct {
	TenantsTotal      int
	TenantsConfigured int
	TenantsSucceeded  int
	RecordsUploaded   int
	RecordsFailed     int
	RecordsSkipped    int
	PerTenantErrors   map[string]ErrorKind
	Tenants           []TenantResult
}

func (r RunResult) String() string {
	return fmt.Sprintf("tenants=%d configured=%d succeeded=%d uploaded=%d failed=%d skipped=%d errors=%d",
		r.TenantsTotal, r.TenantsConfigured, r.TenantsSucceeded, r.RecordsUploaded, r.RecordsFailed, r.RecordsSkipped, len(r.PerTenantErrors))
}

// FormatCSV formats the per-tenant results as CSV, sorted by tenant id.
func (r RunResult) FormatCSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Tenant", "Email", "Outcome", "Window", "Fetched", "Skipped", "Uploaded", "Failed", "Error"}); err != nil {
		return "", err
	}

	rows := make([]TenantResult, len(r.Tenants))
	copy(rows, r.Tenants)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TenantID < rows[j].TenantID
	})

	for _, row := range rows {
		window := ""
		if row.Configured && row.Window.EndMillis > 0 {
			window = row.Window.String()
		}
		record := []string{
			row.TenantID,
			row.Email,
			row.Outcome(),
			window,
			strconv.Itoa(row.Fetched),
			strconv.Itoa(row.Skipped),
			strconv.Itoa(row.Uploaded),
			strconv.Itoa(row.Failed),
			string(KindOf(row.Err)),
		}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
