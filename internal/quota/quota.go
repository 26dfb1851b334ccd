// Package quota enforces the workspace storage admission gate (spec §4.8
// "Storage quotas").
package quota

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
)

// Status is the quota headroom classification returned by CheckQuota.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Report is the result of a quota check: `(used_mb, quota_mb, status)`
// (spec §4.8).
type Report struct {
	UsedMB  float64
	QuotaMB float64
	Status  Status
}

const bytesPerMB = 1024 * 1024

// Checker computes workspace usage against a configured quota. WalkDir is a
// seam for tests; production code walks the real workspace directory.
type Checker struct {
	WorkspaceDir      string
	QuotaMB           float64
	MaxFileMB         float64
	AlertThresholdPct float64 // e.g. 90 means "warning" once usage crosses 90% of quota

	mu        sync.Mutex
	walkDirFn func(root string, fn fs.WalkDirFunc) error
}

// NewChecker builds a Checker over a real workspace directory, walking the
// filesystem on every CheckQuota call (spec §4.8 "sums the workspace
// directory byte-size (single os.walk equivalent)").
func NewChecker(workspaceDir string, quotaMB, maxFileMB, alertThresholdPct float64) *Checker {
	if alertThresholdPct <= 0 {
		alertThresholdPct = 90
	}
	return &Checker{
		WorkspaceDir:      workspaceDir,
		QuotaMB:           quotaMB,
		MaxFileMB:         maxFileMB,
		AlertThresholdPct: alertThresholdPct,
		walkDirFn:         filepath.WalkDir,
	}
}

// usedBytes sums every regular file's size under WorkspaceDir.
func (c *Checker) usedBytes() (int64, error) {
	var total int64
	err := c.walkDirFn(c.WorkspaceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// CheckQuota implements `check_quota()` (spec §4.8).
func (c *Checker) CheckQuota() (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	used, err := c.usedBytes()
	if err != nil {
		return Report{}, fmt.Errorf("quota: walking workspace: %w", err)
	}

	usedMB := float64(used) / bytesPerMB
	report := Report{UsedMB: usedMB, QuotaMB: c.QuotaMB, Status: StatusOK}

	if c.QuotaMB > 0 {
		pct := usedMB / c.QuotaMB * 100
		switch {
		case pct >= 100:
			report.Status = StatusExceeded
		case pct >= c.AlertThresholdPct:
			report.Status = StatusWarning
		}
	}
	return report, nil
}

// ValidateWrite implements `validate_write(size_bytes)`: rejects writes
// exceeding the per-file cap or that would push the workspace past quota
// (spec §4.8). It is an admission gate, not a block — callers should
// surface a tool failure result on error, never retry-loop (spec §5
// "back-pressure").
func (c *Checker) ValidateWrite(sizeBytes int64) error {
	sizeMB := float64(sizeBytes) / bytesPerMB
	if c.MaxFileMB > 0 && sizeMB > c.MaxFileMB {
		return fmt.Errorf("quota: file size %.2fMB exceeds per-file cap %.2fMB", sizeMB, c.MaxFileMB)
	}

	if c.QuotaMB <= 0 {
		return nil
	}

	report, err := c.CheckQuota()
	if err != nil {
		return err
	}
	if report.UsedMB+sizeMB > c.QuotaMB {
		return fmt.Errorf("quota: write of %.2fMB would exceed workspace quota (%.2f/%.2fMB used)", sizeMB, report.UsedMB, c.QuotaMB)
	}
	return nil
}
