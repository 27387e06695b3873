package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"img-budget-go/internal/batch"
	"img-budget-go/internal/compressor"
	"img-budget-go/internal/config"
	"img-budget-go/internal/logger"
	"img-budget-go/internal/placement"
	"img-budget-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoAssets is returned when the source directory holds no matching images.
var ErrNoAssets = errors.New("no images found")

// LogHookFunc receives every progress line, e.g. to forward it to a websocket.
type LogHookFunc func(level, message string)

// Runner executes the fixed pipeline: compress the source directory into the
// output directory and, if the budget is met, swap the two.
type Runner struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	compressor compressor.Compressor
	swapper    *placement.Swapper
	out        io.Writer

	logHook LogHookFunc
}

// Outcome is what a finished run produced.
type Outcome struct {
	RunID   string
	Batch   *batch.Batch
	Report  *compressor.Report
	Swapped bool
}

// NewRunner returns a new Runner. encoder and stamper may be nil; a nil
// encoder selects the imaging JPEG encoder.
func NewRunner(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	encoder compressor.Encoder,
	stamper compressor.Stamper,
	out io.Writer,
) *Runner {
	return NewRunnerWithLogHook(cfg, log, stats, encoder, stamper, out, nil)
}

// NewRunnerWithLogHook lets progress lines be forwarded elsewhere as well.
func NewRunnerWithLogHook(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	encoder compressor.Encoder,
	stamper compressor.Stamper,
	out io.Writer,
	logHook LogHookFunc,
) *Runner {
	if out == nil {
		out = os.Stdout
	}
	r := &Runner{
		config:  cfg,
		logger:  log,
		stats:   stats,
		swapper: placement.NewSwapper(log),
		out:     out,
		logHook: logHook,
	}
	opts := []compressor.Option{compressor.WithEventFunc(r.handleEvent)}
	if stamper != nil {
		opts = append(opts, compressor.WithStamper(stamper))
	}
	if encoder == nil {
		r.compressor = compressor.NewDefaultCompressor(log, opts...)
	} else {
		r.compressor = compressor.NewBudgetCompressor(encoder, log, opts...)
	}
	return r
}

// Run executes one pass of the pipeline. Failing to meet the budget is not an
// error: the outcome reports it and both directories stay on disk. Errors
// creating the output directory or swapping directories are returned.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	runID := uuid.NewString()
	log := logger.WithRun(r.logger, runID)
	log.Info("Starting compression run")
	defer r.stats.Finalize()

	cfg := r.config
	b, err := batch.Discover(cfg.SourceDirectory, cfg.SupportedExtensions, cfg.OutputExtension)
	if err != nil {
		return nil, fmt.Errorf("failed to discover images: %w", err)
	}
	for _, s := range b.Skipped {
		r.stats.IncrementAssetsSkipped()
		r.stats.AddError(s.Path, "discover", s.Reason)
		log.WithField("file", s.Path).Warnf("Skipping file: %s", s.Reason)
	}
	r.stats.AddAssetsFound(len(b.Assets))

	outcome := &Outcome{RunID: runID, Batch: b}

	r.printf("info", "Found %d image files", len(b.Assets))
	r.printf("info", "Original total size: %s", statistics.FormatBytes(batch.TotalSize(b.Paths())))
	if len(b.Assets) == 0 {
		return outcome, ErrNoAssets
	}

	if err := r.prepareOutput(b, log); err != nil {
		return outcome, fmt.Errorf("prepare output directory: %w", err)
	}

	params := cfg.CompressionParams()
	params.RunID = runID
	params.Assets = b.Assets

	report, err := r.compressor.CompressToBudget(ctx, params)
	if err != nil {
		return outcome, fmt.Errorf("compression failed: %w", err)
	}
	outcome.Report = report

	succeeded, failed := len(report.Succeeded()), len(report.Failed())
	r.stats.SetOutcome(succeeded, failed)
	r.stats.SetBytes(report.Budget, report.OriginalBytes, report.Phase1Bytes, report.FinalBytes)

	r.printf("info", "Final compressed size: %s", statistics.FormatBytes(report.FinalBytes))
	if failed > 0 {
		r.printf("warn", "%d of %d files could not be compressed and were left out", failed, len(report.Results))
	}

	budget := statistics.FormatBytes(report.Budget)
	if !report.Success {
		r.printf("error", "Could not compress to under %s. Final size: %s", budget,
			statistics.FormatBytes(report.FinalBytes))
		r.printf("info", "Originals are untouched in %s, partial output kept in %s",
			cfg.SourceDirectory, cfg.OutputDirectory)
		return outcome, nil
	}

	r.printf("info", "Successfully compressed to under %s!", budget)

	if cfg.Security.DryRun {
		r.printf("info", "DRY-RUN: Would move %s -> %s and %s -> %s",
			cfg.SourceDirectory, cfg.BackupDirectory, cfg.OutputDirectory, cfg.SourceDirectory)
		return outcome, nil
	}

	if err := r.swapper.Swap(cfg.SourceDirectory, cfg.OutputDirectory, cfg.BackupDirectory); err != nil {
		return outcome, fmt.Errorf("swap directories: %w", err)
	}
	outcome.Swapped = true
	r.printf("info", "Original images backed up to '%s' folder", cfg.BackupDirectory)

	return outcome, nil
}

// prepareOutput creates the output directory and removes every entry that is
// not the output of a discovered asset. The whole directory is swapped in on
// success, so it must hold nothing the report does not account for.
func (r *Runner) prepareOutput(b *batch.Batch, log *logrus.Entry) error {
	dir := r.config.OutputDirectory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	expected := make(map[string]struct{}, len(b.Assets))
	for _, a := range b.Assets {
		expected[a.OutputName] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, ok := expected[entry.Name()]; ok && !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove stale output %s: %w", path, err)
		}
		log.WithField("file", path).Warn("Removed stale output")
	}
	return nil
}

// handleEvent turns compressor progress into statistics and output lines.
func (r *Runner) handleEvent(ev compressor.Event) {
	switch ev.Kind {
	case compressor.EventEncoded:
		r.stats.IncrementEncodeAttempts()
	case compressor.EventEncodeFailed:
		r.stats.IncrementEncodeAttempts()
		r.stats.IncrementEncodeFailures()
		if ev.Result != nil {
			r.stats.AddError(ev.Result.InputPath, "encode_"+ev.Phase.String(), ev.Result.Message)
			r.printf("error", "Error compressing %s: %s", ev.Result.InputPath, ev.Result.Message)
		}
	case compressor.EventPhaseStarted:
		if ev.Phase == compressor.PhaseAggressive {
			r.printf("info", "Applying more aggressive compression...")
		}
	case compressor.EventAssetDone:
		if ev.Phase == compressor.PhaseAggressive {
			r.stats.IncrementAggressiveAssets()
			if ev.Result != nil && ev.Result.FloorReached {
				r.stats.IncrementFloorReached()
			}
		}
	case compressor.EventPhaseFinished:
		if ev.Phase == compressor.PhaseModerate {
			r.printf("info", "After first compression: %s", statistics.FormatBytes(ev.Aggregate))
		}
	}
}

func (r *Runner) printf(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.out, msg)
	if r.logHook != nil {
		r.logHook(level, msg)
	}
}
