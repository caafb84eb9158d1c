package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for admin key hashes.
const (
	argon2Time        = 2
	argon2Memory      = 16 * 1024
	argon2Parallelism = 2
	argon2KeyLen      = 32
	argon2SaltLen     = 16
)

var argon2Header = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$",
	argon2.Version, argon2Memory, argon2Time, argon2Parallelism)

// HashAdminKey returns the Argon2id hash of an admin key in the PHC string
// format: $argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>.
func HashAdminKey(key string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(key), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
	return argon2Header +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash), nil
}

// verifyAdminKey checks key against a hash produced by HashAdminKey.
func verifyAdminKey(key, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	var memory uint32
	var iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(key), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// AdminKeys verifies bearer keys for the admin API. Argon2id is slow on
// purpose, so keys that verified recently are remembered by digest.
type AdminKeys struct {
	hashes []string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	verified map[[sha256.Size]byte]time.Time
}

// NewAdminKeys creates a verifier for the given Argon2id hashes. With no
// hashes every key is rejected.
func NewAdminKeys(hashes []string, ttl time.Duration) *AdminKeys {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AdminKeys{
		hashes:   hashes,
		ttl:      ttl,
		now:      time.Now,
		verified: make(map[[sha256.Size]byte]time.Time),
	}
}

// Enabled reports whether any admin key is configured.
func (k *AdminKeys) Enabled() bool {
	return len(k.hashes) > 0
}

// Verify reports whether key matches one of the configured hashes.
func (k *AdminKeys) Verify(key string) bool {
	if key == "" || len(k.hashes) == 0 {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	now := k.now()

	k.mu.Lock()
	exp, ok := k.verified[digest]
	k.mu.Unlock()
	if ok && now.Before(exp) {
		return true
	}

	for _, h := range k.hashes {
		if verifyAdminKey(key, h) {
			k.mu.Lock()
			for d, e := range k.verified {
				if !now.Before(e) {
					delete(k.verified, d)
				}
			}
			k.verified[digest] = now.Add(k.ttl)
			k.mu.Unlock()
			return true
		}
	}
	return false
}
