package core

// Undo / cascade (spec §4.6). This is explicitly model-level logic layered
// above the sync core ("Emitting undo cascades is the responsibility of
// mutable-object logic above the core") — the sync/gossip agents never look
// inside a mutation op's payload, they only move ops and terminal-ops sets
// around. OpLog is the minimal fold helper a mutable-object implementation
// needs to apply that responsibility; PermissionTestClass (permission_demo.go)
// is a worked example built on top of it for the seed-test scenarios.

import (
	"encoding/json"
	"fmt"
)

// UndoOpClass is the op class an undo op is literalized under.
const UndoOpClass = "core.Undo"

type undoPayload struct {
	Undoes Hash `json:"undoes"`
}

// IsReversible reports whether op may be targeted by an undo op.
func IsReversible(op *MutationOp) bool { return op.Reversible }

// NewUndoOp builds the op that invalidates undoneHash. undone must be
// reversible; the resulting op is itself irreversible — undoing an undo is
// out of scope here, matching the teacher's one-way RegisterClass stance on
// not letting invalidation logic grow cyclic.
func NewUndoOp(target Hash, author Address, undoneHash Hash, undone *MutationOp) (*MutationOp, error) {
	if !IsReversible(undone) {
		return nil, fmt.Errorf("undo: op %s is not reversible", undoneHash.Short())
	}
	payload, err := json.Marshal(undoPayload{Undoes: undoneHash})
	if err != nil {
		return nil, fmt.Errorf("undo: marshal payload: %w", err)
	}
	op := NewMutationOp(UndoOpClass, target, author)
	op.Payload = payload
	op.PrevOps.Add(undoneHash)
	return op, nil
}

// OpLog is a single mutable object's local view of its op DAG: every op
// received so far, in the order they were folded, plus the set invalidated
// by an undo op. It is not part of the sync protocol — a mutable-object
// implementation builds one from the ops a TerminalOpsSyncAgent delivers.
type OpLog struct {
	ops    map[Hash]*MutationOp
	order  []Hash
	undone HashSet
}

func NewOpLog() *OpLog {
	return &OpLog{ops: make(map[Hash]*MutationOp), undone: NewHashSet()}
}

// Add folds op (identified by its own hash) into the log. Ops must be added
// in causal order — the order the caller applies them is the order IsAdmin
// / IsUser (permission_demo.go) resolve conflicting writes in.
func (l *OpLog) Add(hash Hash, op *MutationOp) {
	if _, exists := l.ops[hash]; exists {
		return
	}
	l.ops[hash] = op
	l.order = append(l.order, hash)
	if op.Class == UndoOpClass {
		var p undoPayload
		if err := json.Unmarshal(op.Payload, &p); err == nil {
			l.undone.Add(p.Undoes)
		}
	}
}

// Op returns the op stored under hash, if any.
func (l *OpLog) Op(hash Hash) (*MutationOp, bool) {
	op, ok := l.ops[hash]
	return op, ok
}

// IsLive reports whether hash is present and not itself the target of an
// undo op. It deliberately does not walk causalOps — cascading invalidation
// across causal links is CascadeUndo's job, and it works by emitting real
// undo ops rather than by recomputing liveness transitively on read.
func (l *OpLog) IsLive(hash Hash) bool {
	if l.undone.Has(hash) {
		return false
	}
	_, ok := l.ops[hash]
	return ok
}

// CascadeUndo finds every live op in the log whose causalOps references
// invalidated, emits and folds in an undo op for each, and recurses so that
// ops causally justified by those newly-undone ops are invalidated in turn.
func CascadeUndo(log *OpLog, author Address, invalidated Hash) ([]*MutationOp, error) {
	var affected []Hash
	for _, h := range log.order {
		op := log.ops[h]
		if log.IsLive(h) && op.CausalOps.Has(invalidated) {
			affected = append(affected, h)
		}
	}

	emitted := make([]*MutationOp, 0, len(affected))
	for _, h := range affected {
		op := log.ops[h]
		undo, err := NewUndoOp(op.Target, author, h, op)
		if err != nil {
			return emitted, err
		}
		lit, err := HashObject(undo)
		if err != nil {
			return emitted, err
		}
		log.Add(lit.Hash, undo)
		emitted = append(emitted, undo)
	}

	for _, h := range affected {
		more, err := CascadeUndo(log, author, h)
		if err != nil {
			return emitted, err
		}
		emitted = append(emitted, more...)
	}
	return emitted, nil
}
