package invitations

import (
	"crypto/rand"
	"fmt"
)

// VerificationCodeLength is the length of the one-time code a credential
// delegate must supply to confirm their invitation.
const VerificationCodeLength = 6

// Ambiguous characters (0/O, 1/I) are excluded; the code is read to the
// delegate over the phone or in person.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateVerificationCode returns a fresh one-time code for a credential
// delegate invitation.
func GenerateVerificationCode() (string, error) {
	buf := make([]byte, VerificationCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
