package core

// Object model (spec §3). HashedObject is any pure, content-addressed
// value; MutableObject additionally declares which mutation-op class
// names it accepts; MutationOp is the hashed, signed event that folds
// into a mutable object's state. The DAG sync protocol only ever needs to
// inspect a mutation op's target/prevOps/causalOps/className/signatures —
// never its class-specific payload — so MutationOp has one fixed Go shape
// for every class, and "class" is just a string compared against each
// sync agent's acceptedClasses set (§9 "Dynamic dispatch on op class").

import (
	"encoding/json"
	"fmt"
	"sort"
)

// HashedObject is any value identified by its literal's content hash.
type HashedObject interface {
	ClassName() string
	// ToLiteralValue returns the canonical value tree for this object and
	// the dependencies discoverable within it.
	ToLiteralValue() (value any, deps []Dependency)
}

// MutableObject is a HashedObject whose state is the fold of its DAG of
// accepted mutation ops.
type MutableObject interface {
	HashedObject
	AcceptedOpClasses() []string
}

// HashObject literalizes o and returns its content hash.
func HashObject(o HashedObject) (*Literal, error) {
	value, deps := o.ToLiteralValue()
	return Literalize(o.ClassName(), value, deps)
}

//---------------------------------------------------------------------
// Mutation op
//---------------------------------------------------------------------

// MutationOp is a hashed, signed event against a mutable object (the
// root). PrevOps defines causal order within the target's op DAG;
// CausalOps optionally references ops in other mutable objects that
// justify this one (spec §3).
type MutationOp struct {
	Class      string
	Target     Hash
	PrevOps    HashSet
	CausalOps  HashSet
	Author     Address
	Reversible bool
	Payload    json.RawMessage
}

// NewMutationOp constructs an op with empty prev/causal sets, ready to
// have dependencies added before literalizing.
func NewMutationOp(class string, target Hash, author Address) *MutationOp {
	return &MutationOp{
		Class:     class,
		Target:    target,
		PrevOps:   NewHashSet(),
		CausalOps: NewHashSet(),
		Author:    author,
	}
}

func (o *MutationOp) ClassName() string { return o.Class }

func (o *MutationOp) ToLiteralValue() (any, []Dependency) {
	prev := o.PrevOps.SortedSlice()
	causal := o.CausalOps.SortedSlice()
	value := map[string]any{
		"target":     o.Target,
		"prevOps":    prev,
		"causalOps":  causal,
		"author":     o.Author,
		"reversible": o.Reversible,
		"payload":    json.RawMessage(o.Payload),
	}
	deps := make([]Dependency, 0, 1+len(prev)+len(causal))
	deps = append(deps, Dependency{Hash: o.Target, Path: "target", Type: DependencyTypeReference})
	for _, h := range prev {
		deps = append(deps, Dependency{Hash: h, Path: "prevOps", Type: DependencyTypeReference})
	}
	for _, h := range causal {
		deps = append(deps, Dependency{Hash: h, Path: "causalOps", Type: DependencyTypeReference})
	}
	return value, deps
}

type mutationOpWire struct {
	Target     Hash            `json:"target"`
	PrevOps    []Hash          `json:"prevOps"`
	CausalOps  []Hash          `json:"causalOps"`
	Author     Address         `json:"author"`
	Reversible bool            `json:"reversible"`
	Payload    json.RawMessage `json:"payload"`
}

// DecodeMutationOp reconstructs a MutationOp from a literal. It is not
// routed through the class registry: every mutation op, regardless of
// class, shares this one wire shape.
func DecodeMutationOp(lit *Literal) (*MutationOp, error) {
	var w mutationOpWire
	if err := lit.DecodeValue(&w); err != nil {
		return nil, fmt.Errorf("decode mutation op: %w", err)
	}
	return &MutationOp{
		Class:      lit.ClassName,
		Target:     w.Target,
		PrevOps:    NewHashSet(w.PrevOps...),
		CausalOps:  NewHashSet(w.CausalOps...),
		Author:     w.Author,
		Reversible: w.Reversible,
		Payload:    w.Payload,
	}, nil
}

//---------------------------------------------------------------------
// Terminal-ops state
//---------------------------------------------------------------------

// terminalOpsStateClass is the class name under which TerminalOpsState
// literals round-trip through the generic class registry.
const terminalOpsStateClass = "core.TerminalOpsState"

// TerminalOpsState is the hashed snapshot of a mutable object's frontier
// (spec §3). Its hash is the "state hash" diffused by the gossip agent.
type TerminalOpsState struct {
	MutableObjHash Hash
	TerminalOps    HashSet
}

func (s *TerminalOpsState) ClassName() string { return terminalOpsStateClass }

func (s *TerminalOpsState) ToLiteralValue() (any, []Dependency) {
	ops := s.TerminalOps.SortedSlice()
	value := map[string]any{
		"mutableObjHash": s.MutableObjHash,
		"terminalOps":    ops,
	}
	deps := make([]Dependency, 0, 1+len(ops))
	deps = append(deps, Dependency{Hash: s.MutableObjHash, Path: "mutableObjHash", Type: DependencyTypeReference})
	for _, h := range ops {
		deps = append(deps, Dependency{Hash: h, Path: "terminalOps", Type: DependencyTypeReference})
	}
	return value, deps
}

// StateHash computes the content hash of s — the value gossiped as the
// agent state for a TerminalOpsSyncAgent.
func (s *TerminalOpsState) StateHash() (Hash, error) {
	lit, err := HashObject(s)
	if err != nil {
		return "", err
	}
	return lit.Hash, nil
}

type terminalOpsStateWire struct {
	MutableObjHash Hash   `json:"mutableObjHash"`
	TerminalOps    []Hash `json:"terminalOps"`
}

func decodeTerminalOpsState(value json.RawMessage, _ []Dependency) (HashedObject, error) {
	var w terminalOpsStateWire
	if err := json.Unmarshal(value, &w); err != nil {
		return nil, fmt.Errorf("decode terminal ops state: %w", err)
	}
	return &TerminalOpsState{MutableObjHash: w.MutableObjHash, TerminalOps: NewHashSet(w.TerminalOps...)}, nil
}

func init() {
	RegisterClass(terminalOpsStateClass, decodeTerminalOpsState)
}

//---------------------------------------------------------------------
// helpers
//---------------------------------------------------------------------

// SortedSlice returns the set's members ordered lexicographically by
// their raw multihash bytes, giving a deterministic slice for canonicalisation —
// Go map iteration order is randomised, so this must not be skipped
// anywhere a HashSet feeds into Literalize.
func (s HashSet) SortedSlice() []Hash {
	out := s.Slice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
