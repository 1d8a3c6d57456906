package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// ErrIdentifierExhausted is returned when the generator cannot find an unused
// portal id within its retry budget. Operational error, never shown to end
// users.
var ErrIdentifierExhausted = errors.New("portal id space exhausted for tenant")

const identifierMaxRetries = 10

// IdentifierGenerator mints unique, human-friendly portal identifiers drawn
// from the restricted alphabet. Uniqueness is scoped per tenant.
type IdentifierGenerator struct {
	accounts port.AccountRepository
}

// NewIdentifierGenerator constructs an IdentifierGenerator.
func NewIdentifierGenerator(accounts port.AccountRepository) *IdentifierGenerator {
	return &IdentifierGenerator{accounts: accounts}
}

// Generate returns an 8-character portal id that does not collide with any
// existing account in the tenant. Candidates come from a CSPRNG; up to ten
// collisions are tolerated before giving up with ErrIdentifierExhausted.
func (g *IdentifierGenerator) Generate(ctx context.Context, tenantID string) (string, error) {
	for attempt := 0; attempt < identifierMaxRetries; attempt++ {
		candidate, err := randomPortalID()
		if err != nil {
			return "", fmt.Errorf("generate portal id candidate: %w", err)
		}

		exists, err := g.accounts.PortalIDExists(ctx, tenantID, candidate)
		if err != nil {
			return "", fmt.Errorf("check portal id uniqueness: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrIdentifierExhausted
}

func randomPortalID() (string, error) {
	alphabetSize := big.NewInt(int64(len(domain.PortalIDAlphabet)))
	buf := make([]byte, domain.PortalIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = domain.PortalIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}
