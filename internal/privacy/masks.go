package privacy

import (
	"regexp"
	"strings"
)

const (
	digitPlaceholder = "XXXXXX"
	partPlaceholder  = "XXX"
	redactionMarker  = "[REDACTED_PII]"
)

var (
	phonePattern    = regexp.MustCompile(`^\d{10}$`)
	aadharPattern   = regexp.MustCompile(`^\d{12}$`)
	passportPattern = regexp.MustCompile(`(?i)^[A-Z]\d{7}$`)
	upiPattern      = regexp.MustCompile(`^[a-zA-Z0-9_.]+@[a-zA-Z]{2,}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9.-]+$`)

	// maskedHandlePattern matches the output of maskHandle. A short local part
	// would otherwise grow by one placeholder character on every pass.
	maskedHandlePattern = regexp.MustCompile(`^[^@]{1,2}XXX@`)
)

func validPhone(v string) bool { return phonePattern.MatchString(v) }
func validAadhar(v string) bool { return aadharPattern.MatchString(v) }
func validPassport(v string) bool { return passportPattern.MatchString(v) }
func validUPI(v string) bool { return upiPattern.MatchString(v) && !maskedHandle(v) }
func validEmail(v string) bool { return emailPattern.MatchString(v) && !maskedHandle(v) }
func always(string) bool { return true }

func maskedHandle(v string) bool { return maskedHandlePattern.MatchString(v) }

// validDottedQuad only checks for four dot-separated parts, not octet ranges.
func validDottedQuad(v string) bool { return strings.Count(v, ".") == 3 }

func maskPhone(v string) string {
	return v[:2] + digitPlaceholder + v[len(v)-2:]
}

func maskAadhar(v string) string {
	return v[:4] + digitPlaceholder + v[len(v)-2:]
}

func maskPassport(v string) string {
	return v[:1] + digitPlaceholder + v[len(v)-1:]
}

// maskHandle keeps a short prefix of the local part and the whole domain.
// Used for both UPI handles and email addresses; callers validate first so
// the local part is ASCII and non-empty.
func maskHandle(v string) string {
	local, domain, _ := strings.Cut(v, "@")
	keep := 2
	if len(local) <= 2 {
		keep = 1
	}
	return local[:keep] + partPlaceholder + "@" + domain
}

func maskName(v string) string {
	tokens := strings.Fields(v)
	for i, tok := range tokens {
		first := []rune(tok)[0]
		tokens[i] = string(first) + partPlaceholder
	}
	return strings.Join(tokens, " ")
}

func maskRedact(string) string {
	return redactionMarker
}

func maskIP(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) != 4 {
		return v
	}
	return parts[0] + "." + partPlaceholder + "." + partPlaceholder + "." + parts[3]
}
