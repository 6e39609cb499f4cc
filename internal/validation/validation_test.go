package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigits(t *testing.T) {
	require.Equal(t, "5551234567", Digits("(555) 123-4567"))
	require.Equal(t, "123456789", Digits("123-45-6789"))
	require.Equal(t, "", Digits("no digits here"))
}

func TestValidateEmail(t *testing.T) {
	require.NoError(t, ValidateEmail("ao@example.com"))
	require.NoError(t, ValidateEmail("  padded@example.com  "))

	require.ErrorIs(t, ValidateEmail(""), ErrInvalidEmail)
	require.ErrorIs(t, ValidateEmail("not-an-email"), ErrInvalidEmail)
	require.ErrorIs(t, ValidateEmail("missing@"), ErrInvalidEmail)
}

func TestValidatePhone(t *testing.T) {
	require.NoError(t, ValidatePhone("5551234567"))
	require.NoError(t, ValidatePhone("(555) 123-4567"))

	require.ErrorIs(t, ValidatePhone("555123456"), ErrInvalidPhone)
	require.ErrorIs(t, ValidatePhone("55512345678"), ErrInvalidPhone)
	require.ErrorIs(t, ValidatePhone(""), ErrInvalidPhone)
}

func TestValidateNPI(t *testing.T) {
	// 1234567893 carries the correct Luhn check digit over the 80840 prefix.
	require.NoError(t, ValidateNPI("1234567893"))

	require.ErrorIs(t, ValidateNPI("1234567890"), ErrInvalidNPI)
	require.ErrorIs(t, ValidateNPI("123456789"), ErrInvalidNPI)
	require.ErrorIs(t, ValidateNPI("12345678931"), ErrInvalidNPI)
	require.ErrorIs(t, ValidateNPI("123456789x"), ErrInvalidNPI)
	require.ErrorIs(t, ValidateNPI(""), ErrInvalidNPI)
}

func TestValidateVerificationCode(t *testing.T) {
	require.NoError(t, ValidateVerificationCode("ABC123"))
	require.NoError(t, ValidateVerificationCode("999999"))

	require.ErrorIs(t, ValidateVerificationCode("abc123"), ErrInvalidVerificationCode)
	require.ErrorIs(t, ValidateVerificationCode("AB123"), ErrInvalidVerificationCode)
	require.ErrorIs(t, ValidateVerificationCode("ABC1234"), ErrInvalidVerificationCode)
	require.ErrorIs(t, ValidateVerificationCode(""), ErrInvalidVerificationCode)
}
