package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
)

func newTestPipeline(cache ResultCache, sink Sink, cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = &Config{BatchSize: 2, WorkerCount: 3, ProgressReport: 1}
	}
	return NewPipeline(privacy.New(logger.NewNop()), cache, sink, cfg, zap.NewNop())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return rows
}

const sampleCSV = `record_id,data_json
1,"{""phone"": ""9876543210"", ""name"": ""Jane Doe"", ""email"": ""jane@example.com""}"
2,"{""address"": ""123 Main St""}"
3,not json
4,"[1, 2, 3]"
5,"{""email"": ""j@x.com"", ""ip_address"": ""10.0.0.5"", ""name"": ""Jane""}"
`

func TestDecodePayload(t *testing.T) {
	t.Run("Object", func(t *testing.T) {
		rec, err := DecodePayload(`{"phone": 9876543210, "name": null, "ok": true}`)
		if err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		want := privacy.Record{"phone": json.Number("9876543210"), "name": nil, "ok": true}
		if diff := cmp.Diff(want, rec); diff != "" {
			t.Errorf("record mismatch (-want +got):\n%s", diff)
		}
	})

	for _, payload := range []string{"", "not json", "[1,2]", `"text"`, "null", `{"a":1} {"b":2}`, `{"a":`} {
		t.Run("Malformed/"+payload, func(t *testing.T) {
			if _, err := DecodePayload(payload); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("DecodePayload(%q) error = %v, want ErrMalformedPayload", payload, err)
			}
		})
	}
}

func TestEncodeRecord(t *testing.T) {
	got, err := EncodeRecord(privacy.Record{"name": "ÉXXX", "note": "a<b>&c", "n": json.Number("12.50")})
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	want := `{"n":12.50,"name":"ÉXXX","note":"a<b>&c"}`
	if got != want {
		t.Errorf("EncodeRecord() = %s, want %s", got, want)
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"in.csv":        FormatCSV,
		"in.CSV":        FormatCSV,
		"in.parquet":    FormatParquet,
		"in.jsonl":      FormatJSON,
		"in.json":       FormatJSON,
		"no-extension":  FormatCSV,
		"dir.v2/in.txt": FormatCSV,
	}
	for name, want := range tests {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", name, got, want)
		}
	}

	if got := DefaultOutputPath("/data/iscp_pii_dataset.csv"); got != "/data/redacted_output_iscp_pii_dataset.csv" {
		t.Errorf("DefaultOutputPath() = %s", got)
	}
}

func TestProcessFileCSV(t *testing.T) {
	in := writeFile(t, "input.csv", sampleCSV)
	out := filepath.Join(t.TempDir(), "output.csv")

	result, err := newTestPipeline(nil, nil, nil).ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	want := [][]string{
		{"record_id", "redacted_data_json", "is_pii"},
		{"1", `{"email":"jaXXX@example.com","name":"JXXX DXXX","phone":"98XXXXXX10"}`, "True"},
		{"2", `{"address":"123 Main St"}`, "False"},
		{"5", `{"email":"jXXX@x.com","ip_address":"10.XXX.XXX.5","name":"Jane"}`, "True"},
	}
	if diff := cmp.Diff(want, readCSV(t, out)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	if result.TotalRecords != 5 || result.Redacted != 3 || result.WithPII != 2 || result.MalformedSkipped != 2 {
		t.Errorf("unexpected result counters: %+v", result)
	}
}

func TestProcessFileCSVMissingColumns(t *testing.T) {
	in := writeFile(t, "input.csv", "id,payload\n1,{}\n")
	out := filepath.Join(t.TempDir(), "output.csv")

	if _, err := newTestPipeline(nil, nil, nil).ProcessFile(context.Background(), in, out); err == nil {
		t.Fatal("expected header error")
	}
}

func TestProcessFileCSVShortRow(t *testing.T) {
	in := writeFile(t, "input.csv", "extra,record_id,data_json\nx,1,\"{}\"\ny\n")
	out := filepath.Join(t.TempDir(), "output.csv")

	result, err := newTestPipeline(nil, nil, nil).ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if result.Redacted != 1 || result.MalformedSkipped != 1 {
		t.Errorf("unexpected result counters: %+v", result)
	}
}

func TestProcessFileJSONLines(t *testing.T) {
	in := writeFile(t, "input.jsonl", strings.Join([]string{
		`{"record_id": 7, "data_json": {"aadhar": "123412341234"}}`,
		``,
		`{"record_id": "8", "data_json": "{\"passport\": \"A1234567\"}"}`,
		`{broken`,
	}, "\n"))
	out := filepath.Join(t.TempDir(), "output.jsonl")

	result, err := newTestPipeline(nil, nil, nil).ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := `{"record_id":"7","redacted_data_json":"{\"aadhar\":\"1234XXXXXX34\"}","is_pii":"True"}` + "\n" +
		`{"record_id":"8","redacted_data_json":"{\"passport\":\"AXXXXXX7\"}","is_pii":"True"}` + "\n"
	if string(data) != want {
		t.Errorf("output = %s, want %s", data, want)
	}
	if result.MalformedSkipped != 1 {
		t.Errorf("MalformedSkipped = %d, want 1", result.MalformedSkipped)
	}
}

func TestProcessFileParquet(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.parquet")
	out := filepath.Join(dir, "output.parquet")

	f, err := os.Create(in)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	w := parquet.NewGenericWriter[RawRecord](f)
	if _, err := w.Write([]RawRecord{
		{RecordID: "a", DataJSON: `{"upi_id": "someone@okhdfc"}`},
		{RecordID: "b", DataJSON: `{"record_id": "b"}`},
	}); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	f.Close()

	if _, err := newTestPipeline(nil, nil, nil).ProcessFile(context.Background(), in, out); err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	rf, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer rf.Close()

	reader := parquet.NewReader(rf)
	defer reader.Close()

	var got []OutputRow
	for {
		var row OutputRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("read output row: %v", err)
		}
		got = append(got, row)
	}

	want := []OutputRow{
		{RecordID: "a", RedactedDataJSON: `{"upi_id":"soXXX@okhdfc"}`, IsPII: "True"},
		{RecordID: "b", RedactedDataJSON: `{"record_id":"b"}`, IsPII: "False"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

// memoryCache is an in-process ResultCache
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]CachedResult
}

func (c *memoryCache) Lookup(_ context.Context, hash string) (CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[hash]
	return r, ok
}

func (c *memoryCache) StoreBatch(_ context.Context, results []CachedResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		c.entries[r.PayloadHash] = r
	}
	return nil
}

type recordingSink struct {
	fail    bool
	batches [][]Outcome
}

func (s *recordingSink) Persist(_ context.Context, outcomes []Outcome) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, outcomes)
	return nil
}

func TestRedactBatchUsesCache(t *testing.T) {
	cache := &memoryCache{entries: map[string]CachedResult{}}
	p := newTestPipeline(cache, nil, nil)

	raws := []RawRecord{
		{RecordID: "1", DataJSON: `{"phone": "9876543210"}`},
		{RecordID: "2", DataJSON: `{"phone": "9876543210"}`},
		{RecordID: "3", DataJSON: `oops`},
	}

	first := &ProcessingResult{}
	outcomes := p.RedactBatch(context.Background(), raws, first)
	if len(outcomes) != 2 || first.CacheHits != 0 || first.MalformedSkipped != 1 {
		t.Fatalf("first pass: outcomes=%d result=%+v", len(outcomes), first)
	}
	if len(cache.entries) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(cache.entries))
	}

	second := &ProcessingResult{}
	outcomes = p.RedactBatch(context.Background(), raws[:1], second)
	if second.CacheHits != 1 || !outcomes[0].CacheHit {
		t.Errorf("second pass should hit cache: %+v", second)
	}
	if outcomes[0].Row.RedactedDataJSON != `{"phone":"98XXXXXX10"}` || outcomes[0].Row.IsPII != "True" {
		t.Errorf("cached row = %+v", outcomes[0].Row)
	}
}

func TestProcessSink(t *testing.T) {
	in := writeFile(t, "input.csv", sampleCSV)

	t.Run("ReceivesBatches", func(t *testing.T) {
		sink := &recordingSink{}
		out := filepath.Join(t.TempDir(), "output.csv")
		if _, err := newTestPipeline(nil, sink, nil).ProcessFile(context.Background(), in, out); err != nil {
			t.Fatalf("ProcessFile() error = %v", err)
		}
		var ids []string
		for _, b := range sink.batches {
			for _, o := range b {
				ids = append(ids, o.Row.RecordID)
			}
		}
		if diff := cmp.Diff([]string{"1", "2", "5"}, ids); diff != "" {
			t.Errorf("sink ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("FailureDoesNotDropRecords", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "output.csv")
		result, err := newTestPipeline(nil, &recordingSink{fail: true}, nil).ProcessFile(context.Background(), in, out)
		if err != nil {
			t.Fatalf("ProcessFile() error = %v", err)
		}
		if result.Redacted != 3 || result.SinkFailures != 3 {
			t.Errorf("unexpected result counters: %+v", result)
		}
		if rows := readCSV(t, out); len(rows) != 4 {
			t.Errorf("output rows = %d, want 4", len(rows))
		}
	})
}

// sliceReader serves RawRecords from memory
type sliceReader struct {
	records []RawRecord
	pos     int
}

func (r *sliceReader) Read() (RawRecord, error) {
	if r.pos >= len(r.records) {
		return RawRecord{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *sliceReader) Close() error { return nil }

type sliceWriter struct{ rows []OutputRow }

func (w *sliceWriter) Write(rows []OutputRow) error {
	w.rows = append(w.rows, rows...)
	return nil
}

func (w *sliceWriter) Close() error { return nil }

func TestProcessPreservesOrder(t *testing.T) {
	var records []RawRecord
	for i := 0; i < 50; i++ {
		id := string(rune('A'+i%26)) + strings.Repeat("x", i/26)
		records = append(records, RawRecord{RecordID: id, DataJSON: `{"phone": "9876543210", "name": "Jane Doe"}`})
	}

	writer := &sliceWriter{}
	p := newTestPipeline(nil, nil, &Config{BatchSize: 7, WorkerCount: 8, ProgressReport: 10})
	if _, err := p.Process(context.Background(), &sliceReader{records: records}, writer); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(writer.rows) != len(records) {
		t.Fatalf("rows = %d, want %d", len(writer.rows), len(records))
	}
	for i, row := range writer.rows {
		if row.RecordID != records[i].RecordID {
			t.Fatalf("row %d id = %s, want %s", i, row.RecordID, records[i].RecordID)
		}
	}

	if stats := p.GetStats(); stats.RecordsWritten != int64(len(records)) {
		t.Errorf("stats.RecordsWritten = %d", stats.RecordsWritten)
	}
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(nil, nil, nil).Process(ctx, &sliceReader{records: []RawRecord{{RecordID: "1", DataJSON: "{}"}}}, &sliceWriter{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
}
