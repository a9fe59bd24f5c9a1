package core

import (
	"testing"
	"time"
)

// newSyncPair wires two TerminalOpsSyncAgents for the same objHash across a
// connected pair of LocalPeerGroups, one per side, so ops published on one
// side can be pulled across by the other.
func newSyncPair(t *testing.T, objHash Hash, classes []string) (a, b *TerminalOpsSyncAgent, storeA, storeB *DiskStore) {
	t.Helper()
	storeA = newTestStore(t)
	storeB = newTestStore(t)

	podA, podB := NewAgentPod(), NewAgentPod()
	groupA := NewLocalPeerGroup("node-a", "group-1", "topic-1", podA, 10)
	groupB := NewLocalPeerGroup("node-b", "group-1", "topic-1", podB, 10)
	groupA.Connect(groupB)

	params := DefaultSyncParams()
	params.HousekeepingInterval = 20 * time.Millisecond

	a = NewTerminalOpsSyncAgent(objHash, classes, storeA, podA, groupA, nil, params)
	b = NewTerminalOpsSyncAgent(objHash, classes, storeB, podB, groupB, nil, params)
	return a, b, storeA, storeB
}

func waitForLiteral(t *testing.T, s *DiskStore, h Hash, timeout time.Duration) *Literal {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if lit, ok := s.LoadLiteral(h); ok {
			return lit
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("literal %s did not arrive within %s", h.Short(), timeout)
	return nil
}

// waitForTerminalOp blocks until target's terminal-ops frontier on agent a
// includes h, the agent's own store.WatchReferences callback having folded
// a freshly-published op into its gossiped state asynchronously.
func waitForTerminalOp(t *testing.T, a *TerminalOpsSyncAgent, h Hash, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, state := a.CurrentState()
		if tos, ok := state.(*TerminalOpsState); ok && tos.TerminalOps.Has(h) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("op %s never reached agent's local terminal-ops frontier within %s", h.Short(), timeout)
}

// TestSyncAgentRequestStateFetchesMissingOp covers the basic two-peer
// protocol: agent a publishes an op locally, agent b asks for a's state and
// ends up with the op, having gone through request-state/send-state then
// request-objs/send-objs.
func TestSyncAgentRequestStateFetchesMissingOp(t *testing.T) {
	root := &PermissionTestClass{}
	rootLit, err := HashObject(root)
	if err != nil {
		t.Fatalf("HashObject root: %v", err)
	}
	target := rootLit.Hash
	classes := []string{ClassAddAdmin, ClassRevokeAdmin, ClassAddUser, UndoOpClass}

	a, b, storeA, storeB := newSyncPair(t, target, classes)
	if err := storeA.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on a: %v", err)
	}
	if err := storeB.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on b: %v", err)
	}

	var founder, newAdmin Address
	founder[0], newAdmin[0] = 1, 2

	op, err := NewAddAdminOp(target, founder, newAdmin)
	if err != nil {
		t.Fatalf("NewAddAdminOp: %v", err)
	}
	lit, err := a.Publish(op)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitForTerminalOp(t, a, lit.Hash, 2*time.Second)

	b.RequestState("node-a")

	got := waitForLiteral(t, storeB, lit.Hash, 2*time.Second)
	if got.ClassName != ClassAddAdmin {
		t.Fatalf("unexpected class on receiving side: %s", got.ClassName)
	}

	ops, ok := storeB.LoadTerminalOpsForMutable(target)
	if !ok || !ops.Has(lit.Hash) {
		t.Fatalf("expected fetched op to become terminal on receiving side")
	}
}

// TestSyncAgentFetchesDependencyChain exercises a two-op chain: b starts out
// knowing nothing, requests state once a has published two causally-chained
// ops, and must recursively pull the whole prevOps chain, landing both ops
// in the right order.
func TestSyncAgentFetchesDependencyChain(t *testing.T) {
	root := &PermissionTestClass{}
	rootLit, err := HashObject(root)
	if err != nil {
		t.Fatalf("HashObject root: %v", err)
	}
	target := rootLit.Hash
	classes := []string{ClassAddAdmin, ClassRevokeAdmin, ClassAddUser, UndoOpClass}

	a, b, storeA, storeB := newSyncPair(t, target, classes)
	if err := storeA.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on a: %v", err)
	}
	if err := storeB.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on b: %v", err)
	}

	var founder, newAdmin, user Address
	founder[0], newAdmin[0], user[0] = 1, 2, 3

	adminOp, err := NewAddAdminOp(target, founder, newAdmin)
	if err != nil {
		t.Fatalf("NewAddAdminOp: %v", err)
	}
	adminLit, err := a.Publish(adminOp)
	if err != nil {
		t.Fatalf("Publish adminOp: %v", err)
	}

	userOp, err := NewAddUserOp(target, newAdmin, user, adminLit.Hash)
	if err != nil {
		t.Fatalf("NewAddUserOp: %v", err)
	}
	userOp.PrevOps.Add(adminLit.Hash)
	userLit, err := a.Publish(userOp)
	if err != nil {
		t.Fatalf("Publish userOp: %v", err)
	}
	waitForTerminalOp(t, a, userLit.Hash, 2*time.Second)

	b.RequestState("node-a")

	waitForLiteral(t, storeB, adminLit.Hash, 2*time.Second)
	waitForLiteral(t, storeB, userLit.Hash, 2*time.Second)

	ops, ok := storeB.LoadTerminalOpsForMutable(target)
	if !ok || !ops.Has(userLit.Hash) || ops.Has(adminLit.Hash) {
		t.Fatalf("expected only userOp to be terminal on receiving side, got %v", ops)
	}
}

// TestSyncAgentRejectsUnacceptedClass confirms an op whose class the
// receiving agent did not register for is never persisted, even once
// fetched and validated on the wire.
func TestSyncAgentRejectsUnacceptedClass(t *testing.T) {
	root := &PermissionTestClass{}
	rootLit, err := HashObject(root)
	if err != nil {
		t.Fatalf("HashObject root: %v", err)
	}
	target := rootLit.Hash

	storeA := newTestStore(t)
	storeB := newTestStore(t)
	podA, podB := NewAgentPod(), NewAgentPod()
	groupA := NewLocalPeerGroup("node-a", "group-1", "topic-1", podA, 10)
	groupB := NewLocalPeerGroup("node-b", "group-1", "topic-1", podB, 10)
	groupA.Connect(groupB)

	params := DefaultSyncParams()
	params.HousekeepingInterval = 20 * time.Millisecond

	if err := storeA.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on a: %v", err)
	}
	if err := storeB.Save(rootLit); err != nil {
		t.Fatalf("seed root literal on b: %v", err)
	}

	fullClasses := []string{ClassAddAdmin, ClassRevokeAdmin, ClassAddUser, UndoOpClass}
	a := NewTerminalOpsSyncAgent(target, fullClasses, storeA, podA, groupA, nil, params)
	b := NewTerminalOpsSyncAgent(target, []string{ClassAddUser, UndoOpClass}, storeB, podB, groupB, nil, params)

	var founder, newAdmin Address
	founder[0], newAdmin[0] = 1, 2
	op, err := NewAddAdminOp(target, founder, newAdmin)
	if err != nil {
		t.Fatalf("NewAddAdminOp: %v", err)
	}
	lit, err := a.Publish(op)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitForTerminalOp(t, a, lit.Hash, 2*time.Second)

	b.RequestState("node-a")
	time.Sleep(300 * time.Millisecond)

	if _, ok := storeB.LoadLiteral(lit.Hash); ok {
		t.Fatalf("expected op of unaccepted class to never be persisted on receiving side")
	}
}

func TestSyncAgentCurrentStateReflectsPublishedOps(t *testing.T) {
	root := &PermissionTestClass{}
	rootLit, err := HashObject(root)
	if err != nil {
		t.Fatalf("HashObject root: %v", err)
	}
	target := rootLit.Hash
	classes := []string{ClassAddAdmin, ClassRevokeAdmin, ClassAddUser, UndoOpClass}

	storeA := newTestStore(t)
	podA := NewAgentPod()
	groupA := NewLocalPeerGroup("node-a", "group-1", "topic-1", podA, 10)
	a := NewTerminalOpsSyncAgent(target, classes, storeA, podA, groupA, nil, DefaultSyncParams())

	h0, _ := a.CurrentState()

	var founder, newAdmin Address
	founder[0], newAdmin[0] = 1, 2
	op, err := NewAddAdminOp(target, founder, newAdmin)
	if err != nil {
		t.Fatalf("NewAddAdminOp: %v", err)
	}
	if _, err := a.Publish(op); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var h1 Hash
	for time.Now().Before(deadline) {
		h1, _ = a.CurrentState()
		if h1 != h0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h1 == h0 {
		t.Fatalf("expected state hash to change after publishing an op")
	}
}
