package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// RecordReader yields raw records until io.EOF. Errors wrapping ErrMalformedRow
// affect only the current row; reading may continue after them.
type RecordReader interface {
	Read() (RawRecord, error)
	Close() error
}

// OpenReader opens filePath with the reader matching format
func OpenReader(filePath string, format FileFormat) (RecordReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var reader RecordReader
	switch format {
	case FormatCSV:
		reader, err = newCSVReader(file)
	case FormatParquet:
		reader, err = newParquetReader(file), nil
	case FormatJSON:
		reader, err = newJSONReader(file), nil
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return reader, nil
}

// csvReader reads rows with record_id and data_json columns, located by header name
type csvReader struct {
	file     *os.File
	reader   *csv.Reader
	idCol    int
	dataCol  int
	minWidth int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	r := &csvReader{file: file, reader: reader, idCol: -1, dataCol: -1}
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case ColumnRecordID:
			r.idCol = i
		case ColumnDataJSON:
			r.dataCol = i
		}
	}
	if r.idCol < 0 || r.dataCol < 0 {
		return nil, fmt.Errorf("CSV header must contain %q and %q columns, got %v", ColumnRecordID, ColumnDataJSON, header)
	}
	r.minWidth = max(r.idCol, r.dataCol) + 1

	return r, nil
}

func (r *csvReader) Read() (RawRecord, error) {
	row, err := r.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return RawRecord{}, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		return RawRecord{}, err
	}

	if len(row) < r.minWidth {
		line, _ := r.reader.FieldPos(0)
		return RawRecord{}, fmt.Errorf("%w: line %d has %d fields", ErrMalformedRow, line, len(row))
	}

	return RawRecord{RecordID: row[r.idCol], DataJSON: row[r.dataCol]}, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

// parquetReader reads rows whose schema has record_id and data_json string columns
type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
}

func newParquetReader(file *os.File) *parquetReader {
	return &parquetReader{file: file, reader: parquet.NewReader(file)}
}

func (r *parquetReader) Read() (RawRecord, error) {
	var record RawRecord
	if err := r.reader.Read(&record); err != nil {
		return RawRecord{}, err
	}
	return record, nil
}

func (r *parquetReader) Close() error {
	rerr := r.reader.Close()
	ferr := r.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

// jsonReader reads one object per line. data_json may be a string holding the
// serialized record or the record object itself.
type jsonReader struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// maxJSONLine bounds a single JSON-lines row
const maxJSONLine = 16 << 20

func newJSONReader(file *os.File) *jsonReader {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLine)
	return &jsonReader{file: file, scanner: scanner}
}

type jsonLine struct {
	RecordID json.RawMessage `json:"record_id"`
	DataJSON json.RawMessage `json:"data_json"`
}

func (r *jsonReader) Read() (RawRecord, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}

		var line jsonLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return RawRecord{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, r.line, err)
		}

		return RawRecord{
			RecordID: rawText(line.RecordID),
			DataJSON: rawText(line.DataJSON),
		}, nil
	}

	if err := r.scanner.Err(); err != nil {
		return RawRecord{}, fmt.Errorf("failed to scan JSON lines: %w", err)
	}
	return RawRecord{}, io.EOF
}

func (r *jsonReader) Close() error {
	return r.file.Close()
}

// rawText unquotes JSON strings and returns any other JSON value verbatim
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
