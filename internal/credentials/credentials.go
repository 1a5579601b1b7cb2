package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	TokenPrefix = "QR_"

	tokenBytes  = 20
	secretBytes = 16
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator produces scan tokens and secrets. Tests swap the reader to get deterministic output.
type Generator struct {
	read func([]byte) (int, error)
}

func NewGenerator() *Generator {
	return &Generator{read: rand.Read}
}

// NewScanToken returns QR_ followed by 160 random bits in unpadded base32.
func (g *Generator) NewScanToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := g.read(buf); err != nil {
		return "", fmt.Errorf("generate scan token: %w", err)
	}
	return TokenPrefix + tokenEncoding.EncodeToString(buf), nil
}

// NewSecret returns 128 random bits in lowercase hex. It never carries the token prefix.
func (g *Generator) NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := g.read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Matches compares a presented secret against the stored one in constant time.
// Both sides are hashed first so the comparison does not leak the stored length.
func Matches(stored, presented string) bool {
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1 && stored != ""
}

// Normalize trims whitespace a scanner or keyboard may add around a token.
func Normalize(token string) string {
	return strings.TrimSpace(token)
}

// Fingerprint is a short, non-reversible label for a token, safe to put in logs.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
