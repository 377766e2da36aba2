package privacy

import "strings"

// candidates holds the combinatorial fields of a record that carry a truthy
// value, in policy order.
// Values keep their decoded type; nested objects and arrays count toward C.
type candidates struct {
	fields []string
	values map[string]any
}

func collectCandidates(p Policy, record Record) candidates {
	c := candidates{values: make(map[string]any)}
	for _, field := range p.Combinatorial {
		raw, ok := record[field]
		if !ok || !truthy(raw) {
			continue
		}
		c.fields = append(c.fields, field)
		c.values[field] = raw
	}
	return c
}

func (c candidates) has(field string) bool {
	_, ok := c.values[field]
	return ok
}

func (c candidates) hasAny(fields []string) bool {
	for _, f := range fields {
		if c.has(f) {
			return true
		}
	}
	return false
}

// strategy decides which candidate fields to mask. ok=false falls through to
// the next strategy.
type strategy struct {
	rule string
	pick func(p Policy, c candidates) (fields []string, ok bool)
}

// defaultStrategies are evaluated in order; the first match wins.
func defaultStrategies() []strategy {
	return []strategy{
		{rule: RuleNameLed, pick: selectNameLed},
		{rule: RuleIdentifierLed, pick: selectIdentifierLed},
	}
}

// selectNameLed masks everything when a full name appears with at least one
// other combinatorial field.
func selectNameLed(p Policy, c candidates) ([]string, bool) {
	if !c.has(p.NameField) || len(c.fields) < 2 {
		return nil, false
	}
	name, ok := stringValue(c.values[p.NameField])
	if !ok || len(strings.Fields(name)) < 2 {
		return nil, false
	}
	return c.fields, true
}

// selectIdentifierLed pairs a device or network identifier with a descriptor.
// The name is left as-is under this rule.
func selectIdentifierLed(p Policy, c candidates) ([]string, bool) {
	if !c.hasAny(p.Identifiers) || !c.hasAny(p.Descriptors) {
		return nil, false
	}
	fields := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		if f != p.NameField {
			fields = append(fields, f)
		}
	}
	return fields, true
}
