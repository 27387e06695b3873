package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics contains counters for one compression run. Counters are safe to
// read from other goroutines while the run updates them.
type Statistics struct {
	AssetsFound    int64
	AssetsSkipped  int64
	EncodeAttempts int64
	EncodeFailures int64
	AssetsEncoded  int64
	AssetsFailed   int64

	AggressiveAssets int64
	FloorReached     int64

	OriginalBytes int64
	Phase1Bytes   int64
	FinalBytes    int64
	BudgetBytes   int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// AddAssetsFound adds n discovered assets.
func (s *Statistics) AddAssetsFound(n int) {
	atomic.AddInt64(&s.AssetsFound, int64(n))
}

// IncrementAssetsSkipped increases the count of files left out at discovery by 1.
func (s *Statistics) IncrementAssetsSkipped() {
	atomic.AddInt64(&s.AssetsSkipped, 1)
}

// IncrementEncodeAttempts increases the count of encoder invocations by 1.
func (s *Statistics) IncrementEncodeAttempts() {
	atomic.AddInt64(&s.EncodeAttempts, 1)
}

// IncrementEncodeFailures increases the count of failed encoder invocations by 1.
func (s *Statistics) IncrementEncodeFailures() {
	atomic.AddInt64(&s.EncodeFailures, 1)
}

// IncrementAggressiveAssets increases the count of assets retried by the aggressive pass by 1.
func (s *Statistics) IncrementAggressiveAssets() {
	atomic.AddInt64(&s.AggressiveAssets, 1)
}

// IncrementFloorReached increases the count of assets that hit the floor by 1.
func (s *Statistics) IncrementFloorReached() {
	atomic.AddInt64(&s.FloorReached, 1)
}

// SetOutcome records the per-asset totals of the final report.
func (s *Statistics) SetOutcome(encoded, failed int) {
	atomic.StoreInt64(&s.AssetsEncoded, int64(encoded))
	atomic.StoreInt64(&s.AssetsFailed, int64(failed))
}

// SetBytes records the aggregate sizes of a run.
func (s *Statistics) SetBytes(budget, original, phase1, final int64) {
	atomic.StoreInt64(&s.BudgetBytes, budget)
	atomic.StoreInt64(&s.OriginalBytes, original)
	atomic.StoreInt64(&s.Phase1Bytes, phase1)
	atomic.StoreInt64(&s.FinalBytes, final)
}

// Finalize records the end time and duration.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns the counters as a map for JSON output.
func (s *Statistics) Snapshot() map[string]interface{} {
	s.mutex.RLock()
	duration := s.Duration
	errCount := len(s.Errors)
	s.mutex.RUnlock()

	return map[string]interface{}{
		"assets_found":      atomic.LoadInt64(&s.AssetsFound),
		"assets_skipped":    atomic.LoadInt64(&s.AssetsSkipped),
		"assets_encoded":    atomic.LoadInt64(&s.AssetsEncoded),
		"assets_failed":     atomic.LoadInt64(&s.AssetsFailed),
		"encode_attempts":   atomic.LoadInt64(&s.EncodeAttempts),
		"encode_failures":   atomic.LoadInt64(&s.EncodeFailures),
		"aggressive_assets": atomic.LoadInt64(&s.AggressiveAssets),
		"floor_reached":     atomic.LoadInt64(&s.FloorReached),
		"original_bytes":    atomic.LoadInt64(&s.OriginalBytes),
		"phase1_bytes":      atomic.LoadInt64(&s.Phase1Bytes),
		"final_bytes":       atomic.LoadInt64(&s.FinalBytes),
		"budget_bytes":      atomic.LoadInt64(&s.BudgetBytes),
		"duration_ms":       duration.Milliseconds(),
		"errors":            errCount,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	s.mutex.RUnlock()

	return fmt.Sprintf(`Compression Statistics Summary:

Assets:
		Found: %d
		Skipped: %d
		Encoded: %d
		Failed: %d
		Aggressive Pass: %d
		Floor Reached: %d

Encoder:
		Attempts: %d
		Failures: %d

Sizes:
		Budget: %s
		Original: %s
		After Moderate Pass: %s
		Final: %s

Performance:
		Duration: %v`,
		atomic.LoadInt64(&s.AssetsFound),
		atomic.LoadInt64(&s.AssetsSkipped),
		atomic.LoadInt64(&s.AssetsEncoded),
		atomic.LoadInt64(&s.AssetsFailed),
		atomic.LoadInt64(&s.AggressiveAssets),
		atomic.LoadInt64(&s.FloorReached),
		atomic.LoadInt64(&s.EncodeAttempts),
		atomic.LoadInt64(&s.EncodeFailures),
		FormatBytes(atomic.LoadInt64(&s.BudgetBytes)),
		FormatBytes(atomic.LoadInt64(&s.OriginalBytes)),
		FormatBytes(atomic.LoadInt64(&s.Phase1Bytes)),
		FormatBytes(atomic.LoadInt64(&s.FinalBytes)),
		duration)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// GetErrorCount returns the number of recorded errors.
func (s *Statistics) GetErrorCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.Errors)
}

// FormatBytes returns a human-readable string for a byte count in IEC units.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
