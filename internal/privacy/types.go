package privacy

import "go.uber.org/zap/zapcore"

// Record is one flat input row: field name to value. Values are strings,
// nil for fields that were not supplied, or scalars decoded from the payload.
type Record map[string]any

// FieldRole is the static classification of a field name.
type FieldRole int

const (
	// RolePassthrough fields are never inspected.
	RolePassthrough FieldRole = iota
	// RoleStandalone fields are PII on their own when the value has the right shape.
	RoleStandalone
	// RoleCombinatorial fields are PII only alongside other combinatorial fields.
	RoleCombinatorial
)

func (r FieldRole) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleCombinatorial:
		return "combinatorial"
	default:
		return "passthrough"
	}
}

// MarshalText lets roles appear by name in JSON findings.
func (r FieldRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Rule names reported in findings.
const (
	RuleStandalone    = "standalone"
	RuleNameLed       = "name_led"
	RuleIdentifierLed = "identifier_led"
)

// Finding records that a field was masked. It never carries the value.
type Finding struct {
	Field string    `json:"field"`
	Role  FieldRole `json:"role"`
	Rule  string    `json:"rule"`
}

// Result is the outcome of redacting a single record.
type Result struct {
	Record      Record    `json:"record"`
	ContainsPII bool      `json:"is_pii"`
	Findings    []Finding `json:"findings"`
}

// MaskedFields returns the names of the fields that were masked, in finding order.
func (r Result) MaskedFields() []string {
	fields := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		fields = append(fields, f.Field)
	}
	return fields
}

// MarshalLogObject logs the finding without the value it came from.
func (f Finding) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("field", f.Field)
	enc.AddString("role", f.Role.String())
	enc.AddString("rule", f.Rule)
	return nil
}
