package privacy

// Field names known to the engine.
const (
	FieldPhone     = "phone"
	FieldAadhar    = "aadhar"
	FieldPassport  = "passport"
	FieldUPIID     = "upi_id"
	FieldName      = "name"
	FieldEmail     = "email"
	FieldAddress   = "address"
	FieldDeviceID  = "device_id"
	FieldIPAddress = "ip_address"
)

// Policy is the fixed field vocabulary the detector classifies against.
// Standalone and Combinatorial are disjoint; Identifiers and Descriptors
// partition Combinatorial for the identifier-led rule.
type Policy struct {
	Standalone    []string `json:"standalone"`
	Combinatorial []string `json:"combinatorial"`
	Identifiers   []string `json:"identifiers"`
	Descriptors   []string `json:"descriptors"`
	NameField     string   `json:"name_field"`
}

// DefaultPolicy returns the policy enforced by the detector.
func DefaultPolicy() Policy {
	return Policy{
		Standalone:    []string{FieldPhone, FieldAadhar, FieldPassport, FieldUPIID},
		Combinatorial: []string{FieldName, FieldEmail, FieldAddress, FieldDeviceID, FieldIPAddress},
		Identifiers:   []string{FieldDeviceID, FieldIPAddress},
		Descriptors:   []string{FieldName, FieldEmail, FieldAddress},
		NameField:     FieldName,
	}
}

// Role classifies a field name.
func (p Policy) Role(field string) FieldRole {
	if contains(p.Standalone, field) {
		return RoleStandalone
	}
	if contains(p.Combinatorial, field) {
		return RoleCombinatorial
	}
	return RolePassthrough
}

func contains(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
