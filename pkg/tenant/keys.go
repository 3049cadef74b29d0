package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

const (
	// minKeyBodyLength is the shortest opaque part accepted after the prefix
	minKeyBodyLength = 16

	// generatedKeyBytes yields 40 hex characters
	generatedKeyBytes = 20
)

// ExtractAPIKey returns the API key carried by r, or "" when there is none.
// X-API-Key wins; otherwise `Authorization: Bearer <key>` or
// `Authorization: API-Key <key>` is accepted. Other schemes carry no key.
func ExtractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}

	scheme, credentials, ok := httputil.AuthorizationCredentials(r)
	if !ok {
		return ""
	}
	if strings.EqualFold(scheme, "Bearer") || strings.EqualFold(scheme, "API-Key") {
		return credentials
	}
	return ""
}

// KeyModule returns the module encoded in the key prefix
func KeyModule(key string) (Module, error) {
	for _, m := range []Module{ModuleAuth, ModuleLogging} {
		body, found := strings.CutPrefix(key, m.Prefix())
		if !found {
			continue
		}
		if len(body) < minKeyBodyLength {
			return "", ErrInvalidKeyFormat
		}
		return m, nil
	}
	return "", ErrInvalidKeyFormat
}

// GenerateKey creates a new key for m. The plaintext is shown once; only the hash is stored.
func GenerateKey(m Module) (plaintext, hash string, err error) {
	if _, err := ParseModule(string(m)); err != nil {
		return "", "", err
	}

	buf := make([]byte, generatedKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}

	plaintext = m.Prefix() + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), nil
}

// HashKey returns the storage form of a key
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
