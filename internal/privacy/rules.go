package privacy

// fieldRule is one field kind: an exact-match check and the one-way
// transform applied when it passes.
type fieldRule struct {
	Field    string
	Validate func(string) bool
	Mask     func(string) string
	// AnyValue rules replace the whole value, so nested objects and arrays
	// are masked too.
	AnyValue bool
}

func standaloneRules() map[string]fieldRule {
	return indexRules(
		fieldRule{Field: FieldPhone, Validate: validPhone, Mask: maskPhone},
		fieldRule{Field: FieldAadhar, Validate: validAadhar, Mask: maskAadhar},
		fieldRule{Field: FieldPassport, Validate: validPassport, Mask: maskPassport},
		fieldRule{Field: FieldUPIID, Validate: validUPI, Mask: maskHandle},
	)
}

func combinatorialRules() map[string]fieldRule {
	return indexRules(
		fieldRule{Field: FieldName, Validate: always, Mask: maskName},
		fieldRule{Field: FieldEmail, Validate: validEmail, Mask: maskHandle},
		fieldRule{Field: FieldAddress, Validate: always, Mask: maskRedact, AnyValue: true},
		fieldRule{Field: FieldDeviceID, Validate: always, Mask: maskRedact, AnyValue: true},
		fieldRule{Field: FieldIPAddress, Validate: validDottedQuad, Mask: maskIP},
	)
}

func indexRules(rules ...fieldRule) map[string]fieldRule {
	m := make(map[string]fieldRule, len(rules))
	for _, r := range rules {
		m[r.Field] = r
	}
	return m
}

// apply masks v when it validates. Otherwise v is returned unchanged with false.
func (r fieldRule) apply(v string) (string, bool) {
	if !r.Validate(v) {
		return v, false
	}
	return r.Mask(v), true
}

// applyValue is apply for a decoded value. Values that do not render as a
// scalar are only masked by AnyValue rules.
func (r fieldRule) applyValue(v any) (any, bool) {
	s, ok := stringValue(v)
	if !ok && !r.AnyValue {
		return v, false
	}
	out, ok := r.apply(s)
	if !ok {
		return v, false
	}
	return out, true
}
