package service

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail accepts local-part@domain.tld. The validator's email rule
// allows dotless domains, so the TLD is checked separately.
func ValidEmail(email string) bool {
	if err := validate.Var(email, "required,email"); err != nil {
		return false
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && len(domain)-dot-1 >= 2
}
