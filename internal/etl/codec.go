package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// DecodePayload parses a serialized record. Anything other than a JSON object
// is rejected with ErrMalformedPayload. Numbers keep their original text.
func DecodePayload(payload string) (privacy.Record, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var record privacy.Record
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	return record, nil
}

// EncodeRecord serializes a masked record as compact JSON. Non-ASCII text and
// HTML characters are written as-is.
func EncodeRecord(record privacy.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// FormatFlag renders the PII flag the way the output column expects it.
func FormatFlag(containsPII bool) string {
	if containsPII {
		return "True"
	}
	return "False"
}
