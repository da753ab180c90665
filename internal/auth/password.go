package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// passwordParams are Fechatter's argon2id parameters. Memory and iterations
// follow the OWASP-recommended baseline for interactive login (19 MiB would
// be too light for a chat platform's login volume); tuned here rather than
// left at the library default so a config change doesn't silently loosen it.
var passwordParams = &argon2id.Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// HashPassword hashes password with argon2id using Fechatter's configured
// parameters.
func HashPassword(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, passwordParams)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return match, nil
}

// NeedsRehash reports whether hash was produced with parameters weaker than
// passwordParams, so the caller can transparently re-hash on next login. A
// hash that cannot be decoded also reports true.
func NeedsRehash(hash string) bool {
	params, salt, key, err := argon2id.DecodeHash(hash)
	if err != nil {
		return true
	}
	return params.Memory < passwordParams.Memory ||
		params.Iterations < passwordParams.Iterations ||
		params.Parallelism < passwordParams.Parallelism ||
		uint32(len(salt)) < passwordParams.SaltLength ||
		uint32(len(key)) < passwordParams.KeyLength
}

// ValidPasswordLength reports whether password's length is within Fechatter's
// accepted bounds. Argon2id accepts arbitrary-length input, so this is purely
// a usability/DoS guard, not a security requirement of the hash itself.
func ValidPasswordLength(password string) bool {
	n := len(password)
	return n >= minPasswordLength && n <= maxPasswordLength
}
