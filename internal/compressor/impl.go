package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"img-budget-go/internal/batch"

	"github.com/sirupsen/logrus"
)

// BudgetCompressor is the default implementation of the Compressor interface.
// It processes assets strictly one after another.
type BudgetCompressor struct {
	encoder Encoder
	stamper Stamper
	logger  *logrus.Logger
	onEvent EventFunc
}

// Option configures a BudgetCompressor.
type Option func(*BudgetCompressor)

// WithStamper stamps every output right after it is encoded.
func WithStamper(s Stamper) Option {
	return func(c *BudgetCompressor) { c.stamper = s }
}

// WithEventFunc registers a progress listener.
func WithEventFunc(fn EventFunc) Option {
	return func(c *BudgetCompressor) { c.onEvent = fn }
}

// NewBudgetCompressor creates a new BudgetCompressor instance.
func NewBudgetCompressor(encoder Encoder, logger *logrus.Logger, opts ...Option) *BudgetCompressor {
	if logger == nil {
		logger = logrus.New()
	}
	c := &BudgetCompressor{encoder: encoder, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultCompressor creates a BudgetCompressor backed by ImagingEncoder.
func NewDefaultCompressor(logger *logrus.Logger, opts ...Option) *BudgetCompressor {
	return NewBudgetCompressor(NewImagingEncoder(), logger, opts...)
}

// CompressToBudget runs the moderate pass over every asset and, only if the
// aggregate overshoots the budget, the aggressive pass.
func (c *BudgetCompressor) CompressToBudget(ctx context.Context, params CompressionParams) (*Report, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     params.RunID,
		Budget:    params.Budget,
		Results:   make([]CompressionResult, len(params.Assets)),
		StartedAt: time.Now(),
	}
	for _, a := range params.Assets {
		report.OriginalBytes += a.Size
	}

	if len(params.Assets) == 0 {
		report.Success = true
		report.FinishedAt = time.Now()
		return report, nil
	}

	log := c.logger.WithField("run_id", params.RunID)

	c.emit(Event{Kind: EventPhaseStarted, Phase: PhaseModerate})
	for i, asset := range params.Assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := c.encodeAsset(asset, params.OutputDir, params.Moderate, PhaseModerate)
		res.Attempts = 1
		report.Results[i] = res
		c.emit(Event{Kind: EventAssetDone, Phase: PhaseModerate, Result: &report.Results[i]})
	}
	report.Phase1Bytes = c.measure(report.Results)
	c.emit(Event{Kind: EventPhaseFinished, Phase: PhaseModerate, Aggregate: report.Phase1Bytes})
	log.WithFields(logrus.Fields{
		"phase":     PhaseModerate.String(),
		"aggregate": report.Phase1Bytes,
		"budget":    params.Budget,
	}).Info("Moderate pass finished")

	if report.Phase1Bytes > params.Budget {
		report.Phase2Ran = true
		report.Share = params.Budget / int64(len(params.Assets))
		log.WithFields(logrus.Fields{
			"phase": PhaseAggressive.String(),
			"share": report.Share,
		}).Info("Applying more aggressive compression")

		c.emit(Event{Kind: EventPhaseStarted, Phase: PhaseAggressive})
		for i, asset := range params.Assets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			report.Results[i] = c.converge(asset, params, report.Share)
			c.emit(Event{Kind: EventAssetDone, Phase: PhaseAggressive, Result: &report.Results[i]})
		}
	}

	report.FinalBytes = c.measure(report.Results)
	if report.Phase2Ran {
		c.emit(Event{Kind: EventPhaseFinished, Phase: PhaseAggressive, Aggregate: report.FinalBytes})
	}
	report.Success = report.FinalBytes <= params.Budget
	report.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"final":   report.FinalBytes,
		"budget":  params.Budget,
		"success": report.Success,
		"failed":  len(report.Failed()),
	}).Info("Compression finished")

	return report, nil
}

// converge applies the aggressive setting to one asset and keeps stepping
// towards the floor while the output is larger than share.
func (c *BudgetCompressor) converge(asset batch.Asset, params CompressionParams, share int64) CompressionResult {
	setting := params.Aggressive
	res := c.encodeAsset(asset, params.OutputDir, setting, PhaseAggressive)
	attempts := 1

	for res.Success && res.Size > share && setting.Quality > params.Floor.Quality {
		setting = NextSetting(setting, params.Floor, params.QualityStep, params.WidthStep)
		startedAt := res.StartedAt
		res = c.encodeAsset(asset, params.OutputDir, setting, PhaseAggressive)
		res.StartedAt = startedAt
		attempts++
	}

	res.Attempts = attempts
	res.FloorReached = res.Success && res.Size > share && setting.Quality <= params.Floor.Quality
	if res.FloorReached {
		res.Message = fmt.Sprintf("floor %s reached above share of %d bytes", setting, share)
	}
	return res
}

// encodeAsset encodes a single asset and measures the file it produced. On
// failure any output left by an earlier pass is removed so that the output
// directory only holds files that are accounted for.
func (c *BudgetCompressor) encodeAsset(asset batch.Asset, outputDir string, setting Setting, phase Phase) CompressionResult {
	res := CompressionResult{
		InputPath:    asset.Path,
		OutputPath:   filepath.Join(outputDir, asset.OutputName),
		OriginalSize: asset.Size,
		Setting:      setting,
		Phase:        phase,
		StartedAt:    time.Now(),
	}
	log := c.logger.WithFields(logrus.Fields{
		"file":      asset.Path,
		"operation": "encode",
		"phase":     phase.String(),
		"setting":   setting.String(),
	})

	enc, err := c.encoder.Encode(asset.Path, res.OutputPath, setting)
	if err != nil {
		return c.fail(res, log, err)
	}
	res.Width, res.Height = enc.Width, enc.Height

	if c.stamper != nil {
		if err := c.stamper.Stamp(res.OutputPath); err != nil {
			res.Message = fmt.Sprintf("warning: output not stamped: %v", err)
			log.Warnf("Could not stamp output: %v", err)
		}
	}

	info, err := os.Stat(res.OutputPath)
	if err != nil {
		return c.fail(res, log, fmt.Errorf("stat compressed error: %w", err))
	}
	res.Size = info.Size()
	res.Success = true
	res.FinishedAt = time.Now()

	log.WithField("size", res.Size).Debug("Encoded")
	c.emit(Event{Kind: EventEncoded, Phase: phase, Result: &res})
	return res
}

func (c *BudgetCompressor) fail(res CompressionResult, log *logrus.Entry, err error) CompressionResult {
	res.Success = false
	res.Error = err
	res.Message = err.Error()
	res.Size = 0
	res.FinishedAt = time.Now()
	if rmErr := os.Remove(res.OutputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log.Warnf("Could not remove stale output: %v", rmErr)
	}
	log.Errorf("Error compressing %s: %v", res.InputPath, err)
	c.emit(Event{Kind: EventEncodeFailed, Phase: res.Phase, Result: &res})
	return res
}

// measure recomputes the aggregate from the files on disk. A successful result
// whose output vanished is turned into a failure.
func (c *BudgetCompressor) measure(results []CompressionResult) int64 {
	var total int64
	for i := range results {
		if !results[i].Success {
			continue
		}
		info, err := os.Stat(results[i].OutputPath)
		if err != nil {
			results[i].Success = false
			results[i].Error = err
			results[i].Message = fmt.Sprintf("output missing: %v", err)
			results[i].Size = 0
			continue
		}
		results[i].Size = info.Size()
		total += info.Size()
	}
	return total
}

func (c *BudgetCompressor) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
