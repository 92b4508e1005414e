package normalizer

import "strings"

// FormatPhoneE164 formats a phone number as E.164. Ten digit numbers are
// treated as North American. Anything shorter is not a usable number and
// yields "".
func FormatPhoneE164(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) >= 11 && len(digits) <= 15:
		return "+" + digits
	}
	return ""
}
