package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether clients must authenticate
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// GenerateChallenge generates a random 32-byte challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign computes the hex HMAC-SHA256 of challenge under the shared secret
func (a *AuthHandler) Sign(challenge string) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := a.Sign(challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Authenticate checks the client's signature. The second return value is
// true once the client exhausted its attempts.
func (a *AuthHandler) Authenticate(client *Client, signature string) (bool, bool) {
	if client.Challenge == "" {
		return false, false
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		return false, client.AuthAttempts >= maxAuthAttempts
	}

	client.Authenticated = true
	client.AuthAttempts = 0
	client.Challenge = ""
	return true, false
}
