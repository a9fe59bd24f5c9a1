package core

// Cryptographic primitives are an external collaborator in this spec
// (§1 Out of scope: "hashing, signing, keypair generation, symmetric
// wordcoding — used only as opaque operations"). Signer is the seam the
// core depends on; HMACSigner is a stand-in implementation used by tests
// and single-process demos, not a production signature scheme.

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Signer produces and checks the opaque per-author signatures attached to
// literals (Literal.Sign / VerifySignatures). A real deployment supplies
// one backed by actual asymmetric keys; the core never inspects what
// "author" or "sig" mean beyond these two methods.
type Signer interface {
	Sign(author Address, payload []byte) ([]byte, error)
	Verify(author Address, payload []byte, sig []byte) bool
}

// HMACSigner authenticates with a per-author shared secret rather than a
// real asymmetric keypair. It exists so the op-graph protocol can be
// exercised end-to-end without pulling in a concrete signature scheme,
// exactly the role core/peer_management.go's in-memory PeerManagement
// plays for transport in the teacher tree.
type HMACSigner struct {
	secrets map[Address][]byte
}

func NewHMACSigner() *HMACSigner {
	return &HMACSigner{secrets: make(map[Address][]byte)}
}

// SetSecret installs the shared secret used to authenticate author.
func (s *HMACSigner) SetSecret(author Address, secret []byte) {
	s.secrets[author] = append([]byte(nil), secret...)
}

func (s *HMACSigner) Sign(author Address, payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secrets[author])
	mac.Write(payload)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verify(author Address, payload []byte, sig []byte) bool {
	mac := hmac.New(sha256.New, s.secrets[author])
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), sig)
}
