package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// APIKeyPrefix starts every key generated for an operator.
const APIKeyPrefix = "hk_"

// argonParams are the Argon2id costs recorded in each stored hash, so a
// hash keeps verifying after the defaults change.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// Operator logins are rare (one per token lifetime), so the cost follows the
// interactive-login profile: 19 MiB, two passes, one lane.
var defaultParams = argonParams{memory: 19 * 1024, time: 2, threads: 1}

const (
	argonKeyLen   = 32
	saltLen       = 16
	apiKeyRandLen = 24
	hashScheme    = "argon2id"
)

var errHashFormat = errors.New("auth: invalid api key hash")

// GenerateAPIKey returns a fresh random operator key. The raw key is shown
// to the caller once; only its hash is stored.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HashAPIKey hashes an operator API key with Argon2id. The result has the
// form argon2id$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<hash>.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	p := defaultParams
	sum := argon2.IDKey([]byte(apiKey), salt, p.time, p.memory, p.threads, argonKeyLen)
	return fmt.Sprintf("%s$m=%d,t=%d,p=%d$%s$%s", hashScheme, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// DummyVerify spends one default-cost hash. Call it on login paths that
// found no operator so both outcomes take the same time.
func DummyVerify() {
	p := defaultParams
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), p.time, p.memory, p.threads, argonKeyLen)
}

// VerifyAPIKey reports whether apiKey matches an encoded hash from HashAPIKey.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return false, errHashFormat
	}
	var p argonParams
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return false, fmt.Errorf("%w: params: %w", errHashFormat, err)
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return false, fmt.Errorf("%w: zero cost parameter", errHashFormat)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %w", errHashFormat, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: digest", errHashFormat)
	}
	got := argon2.IDKey([]byte(apiKey), salt, p.time, p.memory, p.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
