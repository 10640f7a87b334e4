package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argonParams are the Argon2id cost settings. Changing them invalidates
// stored hashes, so they are fixed rather than configurable.
type argonParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
	saltLen int
}

var apiKeyParams = argonParams{
	time:    1,
	memory:  64 * 1024,
	threads: 4,
	keyLen:  32,
	saltLen: 16,
}

func (p argonParams) derive(key string, salt []byte) []byte {
	return argon2.IDKey([]byte(key), salt, p.time, p.memory, p.threads, p.keyLen)
}

// HashAPIKey derives an Argon2id hash of apiKey under a fresh random salt.
// The result is "base64(salt)$base64(hash)".
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, apiKeyParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	digest := apiKeyParams.derive(apiKey, salt)
	return base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(digest), nil
}

// VerifyAPIKey reports whether apiKey matches encoded, using a constant-time
// comparison of the derived digest.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltPart, digestPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(digestPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := apiKeyParams.derive(apiKey, salt)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns one key derivation at the real cost settings. Auth
// failure paths that never reached a stored hash call this so response
// timing does not reveal whether the client_id exists.
func DummyVerify() {
	apiKeyParams.derive("dummy", make([]byte, apiKeyParams.saltLen))
}
