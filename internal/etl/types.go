package etl

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrMalformedPayload marks a payload that does not decode to a record object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMalformedRow marks an input row that cannot be split into id and payload.
	ErrMalformedRow = errors.New("malformed row")
)

// Column names of the tabular input and output.
const (
	ColumnRecordID         = "record_id"
	ColumnDataJSON         = "data_json"
	ColumnRedactedDataJSON = "redacted_data_json"
	ColumnIsPII            = "is_pii"
)

// RawRecord is one input row: an opaque identifier and the serialized record.
type RawRecord struct {
	RecordID string `parquet:"record_id" json:"record_id"`
	DataJSON string `parquet:"data_json" json:"data_json"`
}

// OutputRow is one persisted result row
type OutputRow struct {
	RecordID         string `csv:"record_id" parquet:"record_id" json:"record_id"`
	RedactedDataJSON string `csv:"redacted_data_json" parquet:"redacted_data_json" json:"redacted_data_json"`
	IsPII            string `csv:"is_pii" parquet:"is_pii" json:"is_pii"`
}

// Outcome is the redaction of one raw record, ready to be written
type Outcome struct {
	Row         OutputRow
	PayloadHash string
	ContainsPII bool
	CacheHit    bool
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords     int64         `json:"total_records"`
	Redacted         int64         `json:"redacted"`
	WithPII          int64         `json:"with_pii"`
	MalformedSkipped int64         `json:"malformed_skipped"`
	CacheHits        int64         `json:"cache_hits"`
	SinkFailures     int64         `json:"sink_failures"`
	Duration         time.Duration `json:"duration"`
	Errors           []string      `json:"errors,omitempty"`
}

// maxRecordedErrors caps ProcessingResult.Errors
const maxRecordedErrors = 100

func (r *ProcessingResult) addError(err error) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int           `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 10000
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 30m
	OutputFormat   FileFormat    `yaml:"output_format" mapstructure:"output_format"`     // by extension when empty
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}

// DefaultOutputPath places the CSV output next to the input file
func DefaultOutputPath(inputPath string) string {
	base := filepath.Base(inputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(inputPath), "redacted_output_"+base+".csv")
}
