package core

// Literal canonicalisation (spec §3, §6). A Literal is the wire/storage
// form of a HashedObject: { hash, class, value, dependencies, signatures }.
// Canonical JSON encoding of map[string]any already sorts keys (the
// encoding/json package sorts map keys on marshal), which is what gives
// two peers byte-identical canonical forms for equal values without any
// bespoke canonicaliser.

import (
	"encoding/json"
	"fmt"
)

// DependencyType distinguishes dependencies embedded by value (subobject)
// from dependencies referenced by hash only (reference). Only reference
// dependencies are eligible for omission-with-ownership-proof (§3, §4.5).
type DependencyType string

const (
	DependencyTypeSubobject DependencyType = "subobject"
	DependencyTypeReference DependencyType = "reference"
)

// Dependency records one hash that a literal's value tree reaches,
// together with the field path it was found at and whether it is an
// embedded subobject or an external reference.
type Dependency struct {
	Hash Hash           `json:"hash"`
	Path string         `json:"path"`
	Type DependencyType `json:"type"`
}

// Signature binds a literal to an authoring identity. Signing itself is
// treated as an opaque external operation (spec §1 Out of scope); Signer
// (crypto.go) is the seam.
type Signature struct {
	Author Address `json:"author"`
	Sig    []byte  `json:"sig"`
}

// Literal is the canonical, transmissible form of a HashedObject.
type Literal struct {
	Hash         Hash            `json:"hash"`
	ClassName    string          `json:"class"`
	Value        json.RawMessage `json:"value"`
	Dependencies []Dependency    `json:"dependencies"`
	Signatures   []Signature     `json:"signatures,omitempty"`
}

// CanonicalJSON renders v (built from map[string]any / []any / scalars) as
// its canonical byte form. encoding/json sorts map[string]string-keyed
// fields alphabetically, and emits a stable representation for slices and
// scalars, so no extra sorting pass is required here.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Literalize builds a Literal from a class name, a canonicalisable value
// tree and its already-discovered dependencies, computing the hash as
// H(value). Signatures are attached separately via Literal.Sign, since a
// literal's hash must not depend on who has signed it yet.
func Literalize(className string, value any, deps []Dependency) (*Literal, error) {
	canonical, err := CanonicalJSON(value)
	if err != nil {
		return nil, fmt.Errorf("literalize %s: %w", className, err)
	}
	return &Literal{
		Hash:         HashOf(canonical),
		ClassName:    className,
		Value:        canonical,
		Dependencies: append([]Dependency(nil), deps...),
	}, nil
}

// Recompute returns H(lit.Value); every loaded or received literal must
// have lit.Hash equal to it (spec §3, §8 round-trip law).
func (lit *Literal) Recompute() Hash { return HashOf(lit.Value) }

// Verify checks the hash invariant and, if requireSignature is true, that
// at least one signature is attached. It does not verify signature
// validity — that requires a Signer and is done by the caller when a
// Signer is available.
func (lit *Literal) Verify(requireSignature bool) error {
	if lit.Recompute() != lit.Hash {
		return ErrHashMismatch
	}
	if requireSignature && len(lit.Signatures) == 0 {
		return ErrMissingSignatures
	}
	return nil
}

// DependencyByHash finds the first dependency entry for hash h, if any.
func (lit *Literal) DependencyByHash(h Hash) (Dependency, bool) {
	for _, d := range lit.Dependencies {
		if d.Hash == h {
			return d, true
		}
	}
	return Dependency{}, false
}

// DecodeValue unmarshals the literal's canonical value into dst.
func (lit *Literal) DecodeValue(dst any) error {
	return json.Unmarshal(lit.Value, dst)
}

// Sign appends a signature to the literal using the given Signer. The
// signed payload is the literal's hash bytes, not the raw value, so a
// signature remains valid regardless of how the value tree is re-rendered.
func (lit *Literal) Sign(signer Signer, author Address) error {
	sig, err := signer.Sign(author, lit.Hash.Bytes())
	if err != nil {
		return fmt.Errorf("sign literal %s: %w", lit.Hash.Short(), err)
	}
	lit.Signatures = append(lit.Signatures, Signature{Author: author, Sig: sig})
	return nil
}

// VerifySignatures checks every attached signature against signer.
func (lit *Literal) VerifySignatures(signer Signer) error {
	for _, s := range lit.Signatures {
		if !signer.Verify(s.Author, lit.Hash.Bytes(), s.Sig) {
			return fmt.Errorf("%w: author %x", ErrHashMismatch, s.Author)
		}
	}
	return nil
}
