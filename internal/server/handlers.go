package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/etl"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/websocket"
)

const (
	malformedRecord = "malformed record"
	notAnEnvelope   = "request body must be {\"records\": [...]}"
)

type errorResponse struct {
	Error string `json:"error"`
}

type batchRequest struct {
	Records []json.RawMessage `json:"records"`
}

// batchItem is either a redaction result or an error for the record at the same index
type batchItem struct {
	*privacy.Result
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Results   []batchItem `json:"results"`
	Total     int         `json:"total"`
	Flagged   int         `json:"flagged"`
	Malformed int         `json:"malformed"`
}

// handleRedact masks a single record posted as a JSON object
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	record, err := etl.DecodePayload(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, malformedRecord)
		return
	}

	result := s.redact(record)
	s.publishDetection(r, start, []privacy.Result{result})

	writeJSON(w, http.StatusOK, result)
}

// handleRedactBatch masks {"records": [...]} and answers in input order
func (s *Server) handleRedactBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req batchRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Records == nil {
		writeError(w, http.StatusBadRequest, notAnEnvelope)
		return
	}
	if len(req.Records) > s.config.Server.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many records in batch")
		return
	}

	items := iter.Map(req.Records, func(raw *json.RawMessage) batchItem {
		record, err := etl.DecodePayload(string(*raw))
		if err != nil {
			return batchItem{Error: malformedRecord}
		}
		result := s.redact(record)
		return batchItem{Result: &result}
	})

	resp := batchResponse{Results: items, Total: len(items)}
	results := make([]privacy.Result, 0, len(items))
	for _, item := range items {
		if item.Result == nil {
			resp.Malformed++
			continue
		}
		if item.ContainsPII {
			resp.Flagged++
		}
		results = append(results, *item.Result)
	}
	if resp.Results == nil {
		resp.Results = []batchItem{}
	}

	s.publishDetection(r, start, results)

	writeJSON(w, http.StatusOK, resp)
}

// handleRecords returns stored redactions for a record id
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store is not enabled")
		return
	}

	recordID := mux.Vars(r)["record_id"]
	records, err := s.records.FindByRecordID(r.Context(), recordID)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Record lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record lookup failed")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": recordID,
		"records":   records,
	})
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo reports the field vocabulary and counters
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":           serviceName,
		"version":        serviceVersion,
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		"policy":         s.detector.Policy(),
		"detector":       s.detector.GetStats(),
		"rate_limit":     s.limiter != nil,
		"record_lookup":  s.records != nil,
		"websocket":      s.wsHub != nil,
		"max_batch_size": s.config.Server.MaxBatchSize,
	}
	if s.wsHub != nil {
		info["websocket_stats"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// redact runs the detector and normalizes empty findings for JSON output
func (s *Server) redact(record privacy.Record) privacy.Result {
	result := s.detector.Redact(record)
	if result.Findings == nil {
		result.Findings = []privacy.Finding{}
	}
	return result
}

// readBody reads at most MaxBodyBytes and writes the error response itself
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "failed to read request body")
		}
		return nil, false
	}
	return body, true
}

// publishDetection broadcasts masked field names for the flagged results of a request
func (s *Server) publishDetection(r *http.Request, start time.Time, results []privacy.Result) {
	var fields []string
	seen := make(map[string]bool)
	rules := make(map[string]int)
	flagged := 0

	for _, res := range results {
		if !res.ContainsPII {
			continue
		}
		flagged++
		for _, f := range res.Findings {
			rules[f.Rule]++
			if !seen[f.Field] {
				seen[f.Field] = true
				fields = append(fields, f.Field)
			}
		}
	}
	if flagged == 0 {
		return
	}

	requestID := getRequestID(r.Context())
	s.logger.WithRequestID(requestID).Info("PII detected in request",
		zap.Int("records", len(results)),
		zap.Int("flagged", flagged),
		zap.Strings("fields", fields),
	)

	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePIIDetection,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.PIIDetectionEvent{
			RequestID:    requestID,
			Method:       r.Method,
			Path:         r.URL.Path,
			ClientIP:     s.clientIP(r),
			Records:      len(results),
			Flagged:      flagged,
			Fields:       fields,
			Rules:        rules,
			ProcessingMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
