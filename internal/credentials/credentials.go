// Package credentials holds the admin credential record the server verifies
// handshakes against. The record stores a one-way PBKDF2 derivation of the
// password; the plaintext never touches disk or the wire.
package credentials

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/straumur/zfsadm/internal/common"
)

const (
	// KeyLength is the PBKDF2 output size. The stored hash doubles as the
	// server-side HMAC key, so it matches the HMAC-SHA256 key size.
	KeyLength = 32

	SaltLength = 16

	DefaultIterations = 250000
)

var ErrNoRecord = errors.New("no credential record found")
var ErrBadRecord = errors.New("credential record is invalid")

// Record is the salt/hash/iterations triple consumed by the authentication
// protocol. Immutable for the duration of any handshake that fetched it.
type Record struct {
	Salt       []byte
	Hash       []byte
	Iterations int
}

func (r Record) validate() error {
	if len(r.Salt) == 0 || len(r.Hash) != KeyLength || r.Iterations <= 0 {
		return ErrBadRecord
	}
	return nil
}

// DeriveKey is the single key derivation both sides of the protocol use: the
// client turns the typed password into its HMAC key with it, and NewRecord
// turns the real password into the stored hash with it. That the two are the
// same function is what lets the server key its HMAC with the stored hash
// directly, without ever re-deriving.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeyLength, sha256.New)
}

// NewRecord derives a fresh record for password with a newly generated salt.
func NewRecord(password string, iterations int, randSource io.Reader) Record {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, SaltLength)
	common.RandRead(randSource, salt)
	return Record{
		Salt:       salt,
		Hash:       DeriveKey(password, salt, iterations),
		Iterations: iterations,
	}
}

// Store supplies the credential record for the configured admin account. The
// store may be rewritten by its owner between handshakes; in-flight
// handshakes keep the copy they loaded.
type Store interface {
	Load() (Record, error)
}

// Setter is implemented by stores that can rotate the admin password in
// place. The admin API feature-detects it.
type Setter interface {
	SetPassword(password string, iterations int) error
}
