package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
)

// RecordWriter persists result rows in input order
type RecordWriter interface {
	Write(rows []OutputRow) error
	Close() error
}

// CreateWriter creates filePath and returns the writer matching format
func CreateWriter(filePath string, format FileFormat) (RecordWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	switch format {
	case FormatCSV:
		w, err := newCSVWriter(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return w, nil
	case FormatParquet:
		return &parquetWriter{file: file, writer: parquet.NewGenericWriter[OutputRow](file)}, nil
	case FormatJSON:
		return newJSONWriter(file), nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// csvWriter writes the record_id, redacted_data_json, is_pii columns
type csvWriter struct {
	file   *os.File
	writer *csv.Writer
}

func newCSVWriter(file *os.File) (*csvWriter, error) {
	w := &csvWriter{file: file, writer: csv.NewWriter(file)}
	if err := w.writer.Write([]string{ColumnRecordID, ColumnRedactedDataJSON, ColumnIsPII}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return w, nil
}

func (w *csvWriter) Write(rows []OutputRow) error {
	for _, row := range rows {
		if err := w.writer.Write([]string{row.RecordID, row.RedactedDataJSON, row.IsPII}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}
	return w.file.Close()
}

type parquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[OutputRow]
}

func (w *parquetWriter) Write(rows []OutputRow) error {
	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write Parquet rows: %w", err)
	}
	return nil
}

func (w *parquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize Parquet output: %w", err)
	}
	return w.file.Close()
}

// jsonWriter writes one OutputRow object per line
type jsonWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

func newJSONWriter(file *os.File) *jsonWriter {
	buf := bufio.NewWriter(file)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &jsonWriter{file: file, buf: buf, encoder: enc}
}

func (w *jsonWriter) Write(rows []OutputRow) error {
	for _, row := range rows {
		if err := w.encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to write JSON row: %w", err)
		}
	}
	return nil
}

func (w *jsonWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush JSON output: %w", err)
	}
	return w.file.Close()
}
