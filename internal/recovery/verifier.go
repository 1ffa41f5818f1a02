package recovery

import "github.com/orderdesk/orderdesk/pkg/crypto"

// AnswerVerifier performs the one-way comparison of a submitted answer
// against a stored hash.
type AnswerVerifier interface {
	Verify(storedHash, submittedAnswer string) bool
}

// BcryptVerifier verifies answers against bcrypt hashes. bcrypt's comparison
// runs in constant time relative to the hash, and any normalisation is a
// property of the hash, not of this component.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(storedHash, submittedAnswer string) bool {
	if storedHash == "" {
		return false
	}
	return crypto.VerifyAnswer(storedHash, submittedAnswer)
}
