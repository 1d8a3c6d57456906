package port

// PasswordPolicyValidator enforces password strength requirements on
// activation and forced resets.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
// Verify must be constant-time with respect to the candidate password.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}
