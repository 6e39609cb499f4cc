package validation

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrInvalidEmail is returned when an email address doesn't parse
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidPhone is returned when a phone number isn't exactly ten digits
	ErrInvalidPhone = errors.New("phone number must contain exactly ten digits")

	// ErrInvalidNPI is returned when an NPI fails the length or checksum rules
	ErrInvalidNPI = errors.New("invalid national provider identifier")

	// ErrInvalidVerificationCode is returned for a malformed verification code
	ErrInvalidVerificationCode = errors.New("verification code must be six alphanumeric characters")

	digitsRegex           = regexp.MustCompile(`\D`)
	verificationCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// Digits strips everything but digits from a string. Used to normalize phone
// numbers and SSNs before comparison or storage.
func Digits(s string) string {
	return digitsRegex.ReplaceAllString(s, "")
}

// ValidateEmail checks an email address for RFC 5322 shape.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 320 {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePhone checks that a raw phone number contains exactly ten digits.
// Formatting characters (dashes, spaces, parens) are ignored.
func ValidatePhone(raw string) error {
	if len(Digits(raw)) != 10 {
		return ErrInvalidPhone
	}
	return nil
}

// ValidateNPI checks a National Provider Identifier: ten digits with the Luhn
// check digit computed over the 80840 prefix per the NPPES standard.
func ValidateNPI(npi string) error {
	if len(npi) != 10 {
		return ErrInvalidNPI
	}
	for _, c := range npi {
		if c < '0' || c > '9' {
			return ErrInvalidNPI
		}
	}
	// 24 is the Luhn contribution of the implicit 80840 prefix.
	sum := 24
	double := true
	for i := 8; i >= 0; i-- {
		d := int(npi[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	if (10-sum%10)%10 != int(npi[9]-'0') {
		return ErrInvalidNPI
	}
	return nil
}

// ValidateVerificationCode checks the shape of a CD invitation code.
func ValidateVerificationCode(code string) error {
	if !verificationCodeRegex.MatchString(code) {
		return ErrInvalidVerificationCode
	}
	return nil
}
