// File: internal/policy/token.go
package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// ActionDigest computes a stable hash over the semantically relevant fields
// of an action: type, target selectors, value, and the canonical URL.
// Free-form options are deliberately excluded so cosmetic differences do not
// invalidate an approval.
func ActionDigest(action schemas.Action) string {
	var b strings.Builder
	b.WriteString(string(action.Type))
	b.WriteByte('|')
	if action.Target != nil {
		b.WriteString(action.Target.CSS)
		b.WriteByte('|')
		b.WriteString(action.Target.Text)
		b.WriteByte('|')
		b.WriteString(action.Target.Role)
	} else {
		b.WriteString("||")
	}
	b.WriteByte('|')
	b.WriteString(action.Value)
	b.WriteByte('|')
	if action.URL != "" {
		if canonical, err := schemas.CanonicalURL(action.URL); err == nil {
			b.WriteString(canonical)
		} else {
			b.WriteString(action.URL)
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SignToken produces the confirmation token for one action on one session:
// URL-safe unpadded base64 of HMAC-SHA256 over "sessionId:actionDigest".
// Tokens are stateless; validity is re-derived, never looked up.
func SignToken(secret []byte, sessionID, actionDigest string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID + ":" + actionDigest))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken recomputes the signature and compares in constant time.
func VerifyToken(secret []byte, sessionID, actionDigest, token string) bool {
	if token == "" || len(secret) == 0 {
		return false
	}
	expected := SignToken(secret, sessionID, actionDigest)
	return hmac.Equal([]byte(expected), []byte(token))
}
