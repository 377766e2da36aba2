package etl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Redactor masks a single decoded record
type Redactor interface {
	Redact(record privacy.Record) privacy.Result
}

// CachedResult is a previously computed redaction of an identical payload
type CachedResult struct {
	PayloadHash      string `json:"payload_hash"`
	RedactedDataJSON string `json:"redacted_data_json"`
	ContainsPII      bool   `json:"contains_pii"`
}

// ResultCache remembers redactions by payload hash. Lookup failures must be
// reported as misses.
type ResultCache interface {
	Lookup(ctx context.Context, payloadHash string) (CachedResult, bool)
	StoreBatch(ctx context.Context, results []CachedResult) error
}

// Sink receives every batch after it has been written to the output file
type Sink interface {
	Persist(ctx context.Context, outcomes []Outcome) error
}

// Pipeline reads raw records, redacts them and writes the results in input order
type Pipeline struct {
	redactor Redactor
	cache    ResultCache
	sink     Sink
	config   *Config
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new ETL pipeline. cache and sink may be nil.
func NewPipeline(
	redactor Redactor,
	cache ResultCache,
	sink Sink,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &Pipeline{
		redactor: redactor,
		cache:    cache,
		sink:     sink,
		config:   config,
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile redacts inputPath into outputPath. Formats follow the file
// extensions unless Config.OutputFormat is set.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	inFormat := DetectFileFormat(inputPath)
	outFormat := p.config.OutputFormat
	if outFormat == "" {
		outFormat = DetectFileFormat(outputPath)
	}

	p.logger.Info("Starting redaction pipeline",
		zap.String("input", inputPath),
		zap.String("input_format", string(inFormat)),
		zap.String("output", outputPath),
		zap.String("output_format", string(outFormat)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	reader, err := OpenReader(inputPath, inFormat)
	if err != nil {
		return &ProcessingResult{}, err
	}
	defer reader.Close()

	writer, err := CreateWriter(outputPath, outFormat)
	if err != nil {
		return &ProcessingResult{}, err
	}

	result, err := p.Process(ctx, reader, writer)
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", inFormat, err)
	}

	p.logger.Info("Redaction pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("redacted", result.Redacted),
		zap.Int64("with_pii", result.WithPII),
		zap.Int64("malformed_skipped", result.MalformedSkipped),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Int64("sink_failures", result.SinkFailures),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// Process drains reader into writer batch by batch. It does not close either.
func (p *Pipeline) Process(ctx context.Context, reader RecordReader, writer RecordWriter) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	var reported int64
	for {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		batch, done, err := p.readBatch(reader, result)
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			outcomes := p.RedactBatch(ctx, batch, result)
			if err := p.writeBatch(ctx, writer, outcomes, result); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			p.updateStats(result)
		}

		if p.config.ProgressReport > 0 && result.TotalRecords/int64(p.config.ProgressReport) > reported {
			reported = result.TotalRecords / int64(p.config.ProgressReport)
			p.reportProgress(result)
		}

		if done {
			break
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// readBatch reads up to BatchSize rows. Malformed rows are counted and skipped.
func (p *Pipeline) readBatch(reader RecordReader, result *ProcessingResult) ([]RawRecord, bool, error) {
	batch := make([]RawRecord, 0, p.config.BatchSize)

	for len(batch) < p.config.BatchSize {
		record, err := reader.Read()
		if err == io.EOF {
			return batch, true, nil
		}
		if errors.Is(err, ErrMalformedRow) {
			result.TotalRecords++
			result.MalformedSkipped++
			p.logger.Debug("Skipping malformed input row", zap.Error(err))
			continue
		}
		if err != nil {
			return batch, false, err
		}

		result.TotalRecords++
		batch = append(batch, record)
	}

	return batch, false, nil
}

// work is one decoded record on its way through RedactBatch
type work struct {
	raw    RawRecord
	hash   string
	record privacy.Record
	cached *CachedResult
}

type redaction struct {
	outcome Outcome
	err     error
}

// RedactBatch decodes and redacts raws, returning outcomes in input order.
// Records with malformed payloads are dropped and counted in result.
func (p *Pipeline) RedactBatch(ctx context.Context, raws []RawRecord, result *ProcessingResult) []Outcome {
	items := make([]work, 0, len(raws))
	for _, raw := range raws {
		record, err := DecodePayload(raw.DataJSON)
		if err != nil {
			result.MalformedSkipped++
			p.logger.Debug("Skipping malformed payload",
				zap.String("record_id", raw.RecordID),
				zap.Error(err))
			continue
		}

		item := work{raw: raw, hash: computePayloadHash(raw.DataJSON), record: record}
		if p.cache != nil {
			if cached, ok := p.cache.Lookup(ctx, item.hash); ok {
				item.cached = &cached
			}
		}
		items = append(items, item)
	}

	mapper := iter.Mapper[work, redaction]{MaxGoroutines: p.config.WorkerCount}
	redactions := mapper.Map(items, p.redactOne)

	outcomes := make([]Outcome, 0, len(redactions))
	var fresh []CachedResult
	for _, r := range redactions {
		if r.err != nil {
			result.addError(r.err)
			p.logger.Warn("Dropping record that could not be encoded",
				zap.String("record_id", r.outcome.Row.RecordID),
				zap.Error(r.err))
			continue
		}
		if r.outcome.CacheHit {
			result.CacheHits++
		} else if p.cache != nil {
			fresh = append(fresh, CachedResult{
				PayloadHash:      r.outcome.PayloadHash,
				RedactedDataJSON: r.outcome.Row.RedactedDataJSON,
				ContainsPII:      r.outcome.ContainsPII,
			})
		}
		outcomes = append(outcomes, r.outcome)
	}

	if len(fresh) > 0 {
		if err := p.cache.StoreBatch(ctx, fresh); err != nil {
			p.logger.Warn("Failed to update result cache", zap.Error(err))
		}
	}

	return outcomes
}

// redactOne runs on a worker goroutine and must not touch shared state
func (p *Pipeline) redactOne(w *work) redaction {
	if w.cached != nil {
		return redaction{outcome: Outcome{
			Row: OutputRow{
				RecordID:         w.raw.RecordID,
				RedactedDataJSON: w.cached.RedactedDataJSON,
				IsPII:            FormatFlag(w.cached.ContainsPII),
			},
			PayloadHash: w.hash,
			ContainsPII: w.cached.ContainsPII,
			CacheHit:    true,
		}}
	}

	res := p.redactor.Redact(w.record)
	encoded, err := EncodeRecord(res.Record)
	out := Outcome{
		Row: OutputRow{
			RecordID:         w.raw.RecordID,
			RedactedDataJSON: encoded,
			IsPII:            FormatFlag(res.ContainsPII),
		},
		PayloadHash: w.hash,
		ContainsPII: res.ContainsPII,
	}
	if err != nil {
		return redaction{outcome: out, err: fmt.Errorf("record %s: %w", w.raw.RecordID, err)}
	}
	return redaction{outcome: out}
}

func (p *Pipeline) writeBatch(ctx context.Context, writer RecordWriter, outcomes []Outcome, result *ProcessingResult) error {
	if len(outcomes) == 0 {
		return nil
	}

	rows := make([]OutputRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = o.Row
		if o.ContainsPII {
			result.WithPII++
		}
	}

	if err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	result.Redacted += int64(len(rows))

	if p.sink != nil {
		if err := p.sink.Persist(ctx, outcomes); err != nil {
			result.SinkFailures += int64(len(outcomes))
			result.addError(err)
			p.logger.Warn("Failed to persist batch to sink",
				zap.Int("batch_size", len(outcomes)),
				zap.Error(err))
		}
	}

	return nil
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()

	p.logger.Info("Processing progress",
		zap.Int64("records_read", result.TotalRecords),
		zap.Int64("records_written", result.Redacted),
		zap.Int64("malformed_skipped", result.MalformedSkipped),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

func (p *Pipeline) updateStats(result *ProcessingResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RecordsRead = result.TotalRecords
	p.stats.RecordsWritten = result.Redacted
	p.stats.CurrentBatch++
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(result.TotalRecords) / elapsed
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}

// computePayloadHash computes the SHA-256 hash of a serialized record
func computePayloadHash(payload string) string {
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}
