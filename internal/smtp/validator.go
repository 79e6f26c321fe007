package smtp

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// ValidateEmailAddress validates an address in RFC 5322 form. Bare
// addresses, as sent in RCPT TO, are accepted too.
func ValidateEmailAddress(email string) error {
	_, err := mail.ParseAddress(email)
	return err
}

// ExtractDomain extracts the domain part from an email address.
// Returns an empty string if the address does not contain an @ symbol.
func ExtractDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return domain
}

// IsValidDomain performs basic domain format validation. It checks that the
// domain is non-empty, does not start or end with a dot, and contains at
// least one dot separator.
func IsValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}
