package payments

import (
	"regexp"
	"strings"
)

var nonNumericRegex = regexp.MustCompile(`[^0-9]`)

// SanitizePhoneNumber normalizes an M-Pesa number to the 2547XX/2541XX MSISDN
// form. Accepted inputs: "07XXXXXXXX", "01XXXXXXXX", or the already-prefixed
// 12-digit form. Anything without a trunk or country prefix is rejected, we
// cannot guess which network a bare 9-digit number belongs to.
func SanitizePhoneNumber(phone string) (string, error) {
	sanitized := nonNumericRegex.ReplaceAllString(phone, "")

	if (strings.HasPrefix(sanitized, "07") || strings.HasPrefix(sanitized, "01")) && len(sanitized) == 10 {
		return "254" + sanitized[1:], nil
	}
	if (strings.HasPrefix(sanitized, "2547") || strings.HasPrefix(sanitized, "2541")) && len(sanitized) == 12 {
		return sanitized, nil
	}

	return "", &ValidationError{Field: "phone", Message: "must be a Kenyan mobile number like 07XXXXXXXX or 2547XXXXXXXX"}
}
