package security

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestArgon2HasherRoundTrip(t *testing.T) {
	hasher, err := NewArgon2Hasher(DefaultArgon2Params())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}

	password := "correct horse battery staple"
	encoded, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[0] != argon2Variant {
		t.Fatalf("unexpected variant: %s", parts[0])
	}
	if parts[1] != argon2Version {
		t.Fatalf("unexpected version: %s", parts[1])
	}

	ok, err := hasher.Verify(password, encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected password to verify")
	}

	ok, err = hasher.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestArgon2HasherEmptyInputs(t *testing.T) {
	hasher, err := NewArgon2Hasher(DefaultArgon2Params())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}

	if ok, err := hasher.Verify("", "whatever"); err != nil || ok {
		t.Fatalf("empty password must verify false without error, got ok=%v err=%v", ok, err)
	}
	if ok, err := hasher.Verify("password", ""); err != nil || ok {
		t.Fatalf("empty hash must verify false without error, got ok=%v err=%v", ok, err)
	}
}

func TestArgon2HasherRejectsBadParams(t *testing.T) {
	params := DefaultArgon2Params()
	params.Memory = 1024
	if _, err := NewArgon2Hasher(params); err == nil {
		t.Fatal("expected error for undersized memory parameter")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("refresh-token-value")
	b := HashToken("refresh-token-value")
	if a != b {
		t.Fatal("expected identical hashes for identical input")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if HashToken("other") == a {
		t.Fatal("expected different hashes for different inputs")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	if err != nil {
		t.Fatalf("GenerateBackupCodes returned error: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if len(code) != 11 || code[5] != '-' {
			t.Fatalf("unexpected backup code shape: %q", code)
		}
		for _, segment := range strings.Split(code, "-") {
			for _, r := range segment {
				if !strings.ContainsRune(backupCodeAlphabet, r) {
					t.Fatalf("code %q contains symbol outside alphabet", code)
				}
			}
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate backup code generated: %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestTOTPEnrolmentAndValidation(t *testing.T) {
	enrolment, err := NewTOTPEnrolment("Portal", "AB23CD45")
	if err != nil {
		t.Fatalf("NewTOTPEnrolment returned error: %v", err)
	}
	if enrolment.Secret == "" {
		t.Fatal("expected non-empty secret")
	}
	if !strings.HasPrefix(enrolment.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %q", enrolment.ProvisioningURI)
	}

	now := time.Now()
	code, err := totp.GenerateCode(enrolment.Secret, now)
	if err != nil {
		t.Fatalf("GenerateCode returned error: %v", err)
	}
	if !ValidateTOTP(code, enrolment.Secret, now) {
		t.Fatal("current code must validate")
	}
	if !ValidateTOTP(code, enrolment.Secret, now.Add(30*time.Second)) {
		t.Fatal("code one step old must validate inside the skew window")
	}
	if ValidateTOTP(code, enrolment.Secret, now.Add(5*time.Minute)) {
		t.Fatal("stale code must not validate outside the skew window")
	}
	if ValidateTOTP("", enrolment.Secret, now) {
		t.Fatal("empty code must not validate")
	}
}
