package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateSecureToken returns a base64 URL-safe random string using the
// specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value. Used to store
// refresh tokens and backup codes at rest without the plaintext.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

const backupCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateBackupCode produces one human-typeable single-use code in the form
// XXXXX-XXXXX, drawn from the unambiguous alphabet.
func GenerateBackupCode() (string, error) {
	segment := func(n int) (string, error) {
		var b strings.Builder
		max := big.NewInt(int64(len(backupCodeAlphabet)))
		for i := 0; i < n; i++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		return b.String(), nil
	}

	left, err := segment(5)
	if err != nil {
		return "", err
	}
	right, err := segment(5)
	if err != nil {
		return "", err
	}
	return left + "-" + right, nil
}

// GenerateBackupCodes produces n distinct backup codes.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be positive")
	}

	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}
