package privacy

import (
	"sync/atomic"

	"github.com/raaihank/pii-redactor/internal/logger"
	"go.uber.org/zap"
)

// Detector classifies records and masks their PII fields.
// It holds no per-record state and is safe for concurrent use.
type Detector struct {
	policy        Policy
	standalone    map[string]fieldRule
	combinatorial map[string]fieldRule
	strategies    []strategy
	logger        *logger.Logger

	processed atomic.Int64
	flagged   atomic.Int64
}

// Stats counts records seen by a detector.
type Stats struct {
	Processed int64 `json:"processed"`
	Flagged   int64 `json:"flagged"`
}

// New creates a detector enforcing DefaultPolicy.
func New(log *logger.Logger) *Detector {
	d := &Detector{
		policy:        DefaultPolicy(),
		standalone:    standaloneRules(),
		combinatorial: combinatorialRules(),
		strategies:    defaultStrategies(),
		logger:        log,
	}

	log.Info("Privacy detector initialized",
		zap.Strings("standalone_fields", d.policy.Standalone),
		zap.Strings("combinatorial_fields", d.policy.Combinatorial),
		zap.Int("strategies", len(d.strategies)),
	)

	return d
}

// Policy returns a copy of the field vocabulary in use.
func (d *Detector) Policy() Policy {
	p := d.policy
	p.Standalone = append([]string(nil), p.Standalone...)
	p.Combinatorial = append([]string(nil), p.Combinatorial...)
	p.Identifiers = append([]string(nil), p.Identifiers...)
	p.Descriptors = append([]string(nil), p.Descriptors...)
	return p
}

// Redact returns a masked copy of record. The input is not modified and the
// output has exactly the same keys.
func (d *Detector) Redact(record Record) Result {
	masked := make(Record, len(record))
	for field, value := range record {
		masked[field] = value
	}

	findings := d.redactStandalone(record, masked)
	combined, combFindings := d.redactCombinatorial(record, masked)
	findings = append(findings, combFindings...)

	result := Result{
		Record:      masked,
		ContainsPII: len(findings) > 0 || combined,
		Findings:    findings,
	}

	d.processed.Add(1)
	if result.ContainsPII {
		d.flagged.Add(1)
		d.logger.Debug("PII detected and masked",
			zap.Strings("fields", result.MaskedFields()),
			zap.Int("count", len(findings)),
		)
	}

	return result
}

// redactStandalone masks every standalone field whose value matches its pattern exactly.
func (d *Detector) redactStandalone(record, masked Record) []Finding {
	var findings []Finding
	for _, field := range d.policy.Standalone {
		s, ok := stringValue(record[field])
		if !ok {
			continue
		}
		out, ok := d.standalone[field].apply(s)
		if !ok {
			continue
		}
		masked[field] = out
		findings = append(findings, Finding{Field: field, Role: RoleStandalone, Rule: RuleStandalone})
	}
	return findings
}

// redactCombinatorial runs the strategies against the original record and
// overlays the fields chosen by the first one that matches.
func (d *Detector) redactCombinatorial(record, masked Record) (bool, []Finding) {
	c := collectCandidates(d.policy, record)
	for _, s := range d.strategies {
		fields, ok := s.pick(d.policy, c)
		if !ok {
			continue
		}

		var findings []Finding
		for _, field := range fields {
			out, ok := d.combinatorial[field].applyValue(c.values[field])
			if !ok {
				continue
			}
			masked[field] = out
			findings = append(findings, Finding{Field: field, Role: RoleCombinatorial, Rule: s.rule})
		}
		return true, findings
	}
	return false, nil
}

// GetStats returns the number of records processed and flagged so far.
func (d *Detector) GetStats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Flagged:   d.flagged.Load(),
	}
}
