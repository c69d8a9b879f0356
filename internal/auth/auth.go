// Package auth implements the challenge-response handshake that proves
// knowledge of the admin password without transmitting it. It runs over
// whatever channel negotiation produced, plaintext or encrypted.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/credentials"
	"github.com/straumur/zfsadm/internal/transport"
)

const NonceLength = 32

// Failure reasons. On the wire the server only ever reveals a generic
// auth_result{ok:false}; these reasons exist for local logs and for the
// client's own diagnostics.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonMalformedResponse  = "malformed_response"
	ReasonTimeout            = "timeout"
)

type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "authentication failed: " + e.Reason
}

// Respond computes the keyed proof for a nonce. Both sides call it: the
// client keys it with the PBKDF2 derivation of the typed password, the server
// with the stored hash. The two keys agree exactly when the password does.
func Respond(key, nonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	return mac.Sum(nil)
}

// Verifier holds the per-handshake expectation for one challenge. The
// expected proof lives only in memory and only for this handshake.
type Verifier struct {
	expected []byte
}

// NewChallenge draws a fresh nonce and builds the wire challenge along with
// the verifier for it. The HMAC key is the stored hash itself, never a second
// PBKDF2 pass: the stored hash already is the derivation the client performs.
func NewChallenge(rec credentials.Record, randSource io.Reader) (*Verifier, transport.AuthChallenge) {
	nonce := make([]byte, NonceLength)
	common.RandRead(randSource, nonce)
	v := &Verifier{expected: Respond(rec.Hash, nonce)}
	chal := transport.AuthChallenge{
		Type:       transport.TypeAuthChallenge,
		Salt:       hex.EncodeToString(rec.Salt),
		Iterations: rec.Iterations,
		Nonce:      hex.EncodeToString(nonce),
	}
	return v, chal
}

// Verify checks a hex-encoded response in constant time. A decode failure and
// a wrong proof return distinct reasons for logging, but the caller must
// report both to the peer identically.
func (v *Verifier) Verify(hexResponse string) error {
	decoded, err := hex.DecodeString(hexResponse)
	if err != nil || len(decoded) != sha256.Size {
		return &Error{ReasonMalformedResponse}
	}
	if !hmac.Equal(decoded, v.expected) {
		return &Error{ReasonInvalidCredentials}
	}
	return nil
}

// Challenge runs the server side of the handshake on ch: send the challenge,
// await the response, reply with a verdict. Every failure path still sends
// the same generic auth_result{ok:false} before returning the specific local
// error.
func Challenge(ch transport.Channel, rec credentials.Record, world common.WorldState, timeout time.Duration) error {
	_ = ch.SetDeadline(world.Now().Add(timeout))
	defer ch.SetDeadline(time.Time{})

	verifier, chal := NewChallenge(rec, world.Rand)
	if err := ch.Send(chal); err != nil {
		return mapTimeout(err)
	}

	f, err := ch.Receive()
	if err != nil {
		return mapTimeout(err)
	}
	var verdict error
	if f.Type != transport.TypeAuthResponse {
		verdict = &Error{ReasonMalformedResponse}
	} else {
		var resp transport.AuthResponse
		if err := f.Decode(&resp); err != nil {
			verdict = &Error{ReasonMalformedResponse}
		} else {
			verdict = verifier.Verify(resp.HMAC)
		}
	}

	if err := ch.Send(transport.AuthResult{Type: transport.TypeAuthResult, OK: verdict == nil}); err != nil {
		return mapTimeout(err)
	}
	return verdict
}

// Authenticate runs the client side: receive the challenge, derive the key
// from password, return the proof, await the verdict.
func Authenticate(ch transport.Channel, password string, now func() time.Time, timeout time.Duration) error {
	_ = ch.SetDeadline(now().Add(timeout))
	defer ch.SetDeadline(time.Time{})

	f, err := ch.Receive()
	if err != nil {
		return mapTimeout(err)
	}
	if f.Type != transport.TypeAuthChallenge {
		return &Error{ReasonMalformedResponse}
	}
	var chal transport.AuthChallenge
	if err := f.Decode(&chal); err != nil {
		return &Error{ReasonMalformedResponse}
	}
	salt, err := hex.DecodeString(chal.Salt)
	if err != nil {
		return &Error{ReasonMalformedResponse}
	}
	nonce, err := hex.DecodeString(chal.Nonce)
	if err != nil || chal.Iterations <= 0 {
		return &Error{ReasonMalformedResponse}
	}

	key := credentials.DeriveKey(password, salt, chal.Iterations)
	err = ch.Send(transport.AuthResponse{
		Type: transport.TypeAuthResponse,
		HMAC: hex.EncodeToString(Respond(key, nonce)),
	})
	if err != nil {
		return mapTimeout(err)
	}

	f, err = ch.Receive()
	if err != nil {
		return mapTimeout(err)
	}
	if f.Type != transport.TypeAuthResult {
		return &Error{ReasonMalformedResponse}
	}
	var result transport.AuthResult
	if err := f.Decode(&result); err != nil {
		return &Error{ReasonMalformedResponse}
	}
	if !result.OK {
		return &Error{ReasonInvalidCredentials}
	}
	return nil
}

func mapTimeout(err error) error {
	if errors.Is(err, transport.ErrTimeout) {
		return &Error{ReasonTimeout}
	}
	return err
}
