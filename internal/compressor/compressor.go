package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"img-budget-go/internal/batch"
)

// ErrInvalidParams is returned when CompressionParams cannot drive a run.
var ErrInvalidParams = errors.New("invalid compression params")

// Phase identifies which pass produced a result.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseModerate
	PhaseAggressive
)

// String returns a human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseModerate:
		return "moderate"
	case PhaseAggressive:
		return "aggressive"
	default:
		return "none"
	}
}

// MarshalText lets phases appear by name in JSON reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CompressionParams defines parameters for a compress-to-budget run.
type CompressionParams struct {
	RunID       string
	Assets      []batch.Asset
	OutputDir   string
	Budget      int64
	Moderate    Setting
	Aggressive  Setting
	Floor       Setting
	QualityStep int
	WidthStep   int
}

// Validate checks that the params describe a run that terminates.
func (p CompressionParams) Validate() error {
	if p.OutputDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalidParams)
	}
	if p.Budget <= 0 {
		return fmt.Errorf("%w: budget must be positive, got %d", ErrInvalidParams, p.Budget)
	}
	for name, s := range map[string]Setting{"moderate": p.Moderate, "aggressive": p.Aggressive, "floor": p.Floor} {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
	}
	if p.QualityStep <= 0 || p.WidthStep <= 0 {
		return fmt.Errorf("%w: steps must be positive (quality %d, width %d)", ErrInvalidParams, p.QualityStep, p.WidthStep)
	}
	if !p.Aggressive.MoreAggressiveThan(p.Moderate) {
		return fmt.Errorf("%w: aggressive %s is not more aggressive than moderate %s", ErrInvalidParams, p.Aggressive, p.Moderate)
	}
	if p.Floor.Quality > p.Aggressive.Quality || p.Floor.MaxWidth > p.Aggressive.MaxWidth {
		return fmt.Errorf("%w: floor %s is above aggressive setting %s", ErrInvalidParams, p.Floor, p.Aggressive)
	}
	return nil
}

// CompressionResult describes the outcome for a single asset.
type CompressionResult struct {
	InputPath    string    `json:"input_path"`
	OutputPath   string    `json:"output_path"`
	OriginalSize int64     `json:"original_size"`
	Size         int64     `json:"size"`
	Setting      Setting   `json:"setting"`
	Phase        Phase     `json:"phase"`
	Attempts     int       `json:"attempts"`
	FloorReached bool      `json:"floor_reached"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	Error        error     `json:"-"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Report is the explicit outcome of a run: one result per asset and the
// aggregate figures the success decision is made from.
type Report struct {
	RunID         string              `json:"run_id"`
	Budget        int64               `json:"budget"`
	Share         int64               `json:"share,omitempty"`
	OriginalBytes int64               `json:"original_bytes"`
	Phase1Bytes   int64               `json:"phase1_bytes"`
	FinalBytes    int64               `json:"final_bytes"`
	Phase2Ran     bool                `json:"phase2_ran"`
	Success       bool                `json:"success"`
	Results       []CompressionResult `json:"results"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}

// Succeeded returns the results that produced an output file.
func (r *Report) Succeeded() []CompressionResult {
	var out []CompressionResult
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results that were skipped because of an error.
func (r *Report) Failed() []CompressionResult {
	var out []CompressionResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// EventKind tells a progress listener what just happened.
type EventKind string

const (
	EventPhaseStarted  EventKind = "phase_started"
	EventEncoded       EventKind = "encoded"
	EventEncodeFailed  EventKind = "encode_failed"
	EventAssetDone     EventKind = "asset_done"
	EventPhaseFinished EventKind = "phase_finished"
)

// Event is emitted synchronously while a run progresses.
type Event struct {
	Kind      EventKind          `json:"kind"`
	Phase     Phase              `json:"phase"`
	Result    *CompressionResult `json:"result,omitempty"`
	Aggregate int64              `json:"aggregate,omitempty"`
}

// EventFunc receives progress events. It must not block for long; the run is
// sequential and waits for it.
type EventFunc func(Event)

// Compressor defines the interface for compressing a batch under a byte budget.
type Compressor interface {
	// CompressToBudget encodes every asset and, if the moderate pass
	// overshoots, retries each asset more aggressively. The returned error is
	// only non-nil for invalid params or cancellation; per-asset failures are
	// reported in the Report.
	CompressToBudget(ctx context.Context, params CompressionParams) (*Report, error)
}
