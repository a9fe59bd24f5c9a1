package core

// Content hashing. Adapted from core/merkle_tree_operations.go's hashing
// style and core/storage.go's CID handling, generalised from blob pinning
// to the hash identity of hashed objects themselves (DOMAIN STACK:
// lukechampine.com/blake3, github.com/ipfs/go-cid,
// github.com/multiformats/go-multihash).

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// blake3Code is the multicodec tag (0x1e, "blake3" in the multicodec
// table) prepended to digests produced by H(). A fixed codec keeps Hash
// equality meaningful across peers and leaves room to version the hash
// backend later without changing the Hash type.
const blake3Code = 0x1e

// Hash is a fixed-length content fingerprint carried as raw multihash
// bytes. It is deliberately a string (not a byte slice) so it is
// comparable and usable as a map key, matching how the sync agent and
// gossip agent index by hash throughout (terminalOps sets, incomplete-op
// tables, prevStatesCache).
type Hash string

// HashOf computes the content hash of a canonical byte string.
func HashOf(canonical []byte) Hash {
	digest := blake3.Sum256(canonical)
	encoded, err := mh.Encode(digest[:], blake3Code)
	if err != nil {
		// Encode only fails for bad length/code combinations; both are
		// fixed constants above, so this is unreachable in practice.
		panic(fmt.Sprintf("hash: encode: %v", err))
	}
	return Hash(encoded)
}

// ParseHash decodes the CID string form used on the wire (§6) back into a
// Hash.
func ParseHash(s string) (Hash, error) {
	if s == "" {
		return "", nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return "", fmt.Errorf("parse hash: %w", err)
	}
	return Hash(c.Hash()), nil
}

// MustParseHash is ParseHash for callers that already validated the input
// (tests, constants).
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// IsZero reports whether h carries no digest.
func (h Hash) IsZero() bool { return h == "" }

// Bytes returns the raw multihash bytes, the canonical wire representation
// of a dependency hash.
func (h Hash) Bytes() []byte { return []byte(h) }

// CID returns the content ID (CIDv1, raw codec) for h.
func (h Hash) CID() cid.Cid {
	return cid.NewCidV1(cid.Raw, mh.Multihash(h))
}

// String renders h as a CID string, the form used in JSON wire messages.
func (h Hash) String() string {
	if h.IsZero() {
		return ""
	}
	return h.CID().String()
}

// Short renders a truncated form for log lines, mirroring the teacher's
// Bytes.Short helper in core/replication.go.
func (h Hash) Short() string {
	s := h.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalText and UnmarshalText render h as its CID string for use as a
// JSON object/map key — encoding/json only consults a TextMarshaler for
// map keys (MarshalJSON is ignored there), and Hash's raw multihash bytes
// are not valid UTF-8, so without these a map[Hash]... key would come out
// mangled with U+FFFD instead of round-tripping through String/ParseHash.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashSet is a convenience alias used throughout the sync/gossip agents
// for "set of hashes" fields (terminalOps, prevOps, causalOps).
type HashSet map[Hash]struct{}

func NewHashSet(hashes ...Hash) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

func (s HashSet) Has(h Hash) bool { _, ok := s[h]; return ok }

func (s HashSet) Add(h Hash) { s[h] = struct{}{} }

func (s HashSet) Remove(h Hash) { delete(s, h) }

func (s HashSet) Slice() []Hash {
	out := make([]Hash, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	return out
}

func (s HashSet) Clone() HashSet {
	out := make(HashSet, len(s))
	for h := range s {
		out[h] = struct{}{}
	}
	return out
}

func (s HashSet) Equal(o HashSet) bool {
	if len(s) != len(o) {
		return false
	}
	for h := range s {
		if !o.Has(h) {
			return false
		}
	}
	return true
}
