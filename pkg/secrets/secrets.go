package secrets

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/bcrypt"

	dErrors "bharosa/pkg/domain-errors"
)

// inviteAlphabet avoids ambiguous characters (0/O, 1/I/L) so codes survive
// being read aloud over the phone.
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InviteCodeLength is the fixed length of circle invite codes.
const InviteCodeLength = 8

// GenerateInviteCode creates a cryptographically random circle invite code.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate invite code")
	}
	for i := range buf {
		buf[i] = inviteAlphabet[int(buf[i])%len(inviteAlphabet)]
	}
	return string(buf), nil
}

// HashPIN creates a bcrypt hash of the provided member PIN.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", dErrors.New(dErrors.CodeValidation, "pin cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "pin is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash pin")
	}
	return string(hashed), nil
}

// VerifyPIN checks if a plaintext PIN matches a bcrypt hash.
func VerifyPIN(pin, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeNotAuthorized, "invalid pin")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify pin")
	}
	return nil
}
