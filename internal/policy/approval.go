// File: internal/policy/approval.go
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// ErrGrantExpired is returned when an approval grant's TTL has elapsed.
var ErrGrantExpired = errors.New("approval grant expired")

// grantClaims wraps a confirmation token in a TTL-bound envelope. The inner
// token itself never expires; TTL binding happens here, at issuance.
type grantClaims struct {
	ConfirmationToken string `json:"cft"`
	ActionDigest      string `json:"dig"`
	jwt.RegisteredClaims
}

// Approver is the issuance layer that sits between a human sign-off and the
// stateless confirmation tokens the policy engine checks. A grant is an
// HS256 JWT embedding the confirmation token with an expiry; redeeming it
// yields the raw token to pass back through the executor.
type Approver struct {
	secret []byte
	ttl    time.Duration
}

// NewApprover creates an approval issuer with the configured TTL.
func NewApprover(cfg config.PolicyConfig) *Approver {
	ttl := cfg.ApprovalTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Approver{secret: []byte(cfg.SigningSecret), ttl: ttl}
}

// Issue signs a TTL-bound grant approving one action on one session.
func (a *Approver) Issue(sessionID, actionDigest string) (string, error) {
	now := time.Now()
	claims := grantClaims{
		ConfirmationToken: SignToken(a.secret, sessionID, actionDigest),
		ActionDigest:      actionDigest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	grant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign approval grant: %w", err)
	}
	return grant, nil
}

// Redeem verifies a grant and returns the embedded confirmation token.
func (a *Approver) Redeem(grant string) (string, error) {
	var claims grantClaims
	_, err := jwt.ParseWithClaims(grant, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrGrantExpired
		}
		return "", fmt.Errorf("parse approval grant: %w", err)
	}
	if claims.ConfirmationToken == "" {
		return "", errors.New("approval grant missing confirmation token")
	}
	return claims.ConfirmationToken, nil
}
