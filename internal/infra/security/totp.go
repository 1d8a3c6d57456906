package security

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
	// totpSkew accepts one step either side of now, per RFC 6238 guidance.
	totpSkew = 1
)

// TOTPEnrolment is the freshly generated material for a 2FA setup.
type TOTPEnrolment struct {
	Secret          string
	ProvisioningURI string
}

// NewTOTPEnrolment generates a TOTP secret and otpauth:// provisioning URI for
// the supplied issuer and portal identifier.
func NewTOTPEnrolment(issuer, portalID string) (*TOTPEnrolment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: portalID,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	return &TOTPEnrolment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// ValidateTOTP checks a six-digit code against the secret with a ±1 step
// window around the supplied moment.
func ValidateTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
