package domain

import "strings"

// NormalizePhone reduces a phone number to Kenyan international digits
// (254XXXXXXXXX) so sender identities can be compared as strings.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "254"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case len(digits) == 9:
		return "254" + digits
	default:
		return digits
	}
}

// SamePhone compares two contact identities after normalization.
func SamePhone(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}
