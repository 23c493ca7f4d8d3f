// Package crypto seals snapshot bodies with a passphrase-derived HMAC so a
// restore can detect tampered or truncated objects.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	macKeyLen        = 32
	currentVersion   = 1
	kdfName          = "pbkdf2-sha256"
)

// Seal is the sidecar stored next to a sealed object.
type Seal struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"` // hex
	MAC        string `json:"mac"`  // hex HMAC-SHA256 of the body
	Keccak256  string `json:"keccak256"`
}

// Sealer signs and verifies object bodies.
type Sealer struct {
	passphrase []byte
	iterations int
}

// NewSealer creates a Sealer keyed by passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	return &Sealer{passphrase: []byte(passphrase), iterations: pbkdf2Iterations}, nil
}

// WithIterations overrides the key-derivation cost for new seals. Verify
// always uses the count recorded in the seal.
func (s *Sealer) WithIterations(n int) *Sealer {
	if n > 0 {
		s.iterations = n
	}
	return s
}

// Seal derives a fresh key under a random salt and MACs body.
func (s *Sealer) Seal(body []byte) (Seal, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Seal{}, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return Seal{
		Version:    currentVersion,
		KDF:        kdfName,
		Iterations: s.iterations,
		Salt:       hex.EncodeToString(salt),
		MAC:        hex.EncodeToString(s.mac(salt, s.iterations, body)),
		Keccak256:  Digest(body),
	}, nil
}

// Verify checks body against seal. Every mismatch wraps domain.ErrIntegrity.
func (s *Sealer) Verify(body []byte, seal Seal) error {
	if seal.Version != currentVersion || seal.KDF != kdfName {
		return fmt.Errorf("crypto: unsupported seal v%d %q: %w", seal.Version, seal.KDF, domain.ErrIntegrity)
	}
	if seal.Iterations <= 0 {
		return fmt.Errorf("crypto: seal iterations %d: %w", seal.Iterations, domain.ErrIntegrity)
	}
	salt, err := hex.DecodeString(seal.Salt)
	if err != nil {
		return fmt.Errorf("crypto: decode salt: %w", domain.ErrIntegrity)
	}
	want, err := hex.DecodeString(seal.MAC)
	if err != nil {
		return fmt.Errorf("crypto: decode mac: %w", domain.ErrIntegrity)
	}
	if !hmac.Equal(want, s.mac(salt, seal.Iterations, body)) {
		return fmt.Errorf("crypto: mac mismatch: %w", domain.ErrIntegrity)
	}
	if seal.Keccak256 != "" && seal.Keccak256 != Digest(body) {
		return fmt.Errorf("crypto: digest mismatch: %w", domain.ErrIntegrity)
	}
	return nil
}

func (s *Sealer) mac(salt []byte, iterations int, body []byte) []byte {
	key := pbkdf2.Key(s.passphrase, salt, iterations, macKeyLen, sha256.New)
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return h.Sum(nil)
}

// Digest returns the 0x-prefixed Keccak-256 hash of body.
func Digest(body []byte) string {
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(body))
}
