package core

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir(), 100, nil, nil)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDiskStoreSaveAndLoadLiteral(t *testing.T) {
	s := newTestStore(t)
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	if err := s.Save(lit); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.LoadLiteral(lit.Hash)
	if !ok {
		t.Fatalf("expected literal to be loadable after Save")
	}
	if got.Hash != lit.Hash {
		t.Fatalf("loaded literal hash mismatch")
	}
}

func TestDiskStoreSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	lit, _ := Literalize("demo.Thing", map[string]any{"n": 2}, nil)
	if err := s.Save(lit); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(lit); err != nil {
		t.Fatalf("second Save should be a no-op, got: %v", err)
	}
}

func TestDiskStoreRejectsOpWithMissingPrevOp(t *testing.T) {
	s := newTestStore(t)
	target := HashOf([]byte("target"))
	var author Address

	op := NewMutationOp("demo.AddAdmin", target, author)
	op.PrevOps.Add(HashOf([]byte("never-persisted")))
	lit, err := HashObject(op)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	if err := s.Save(lit); err == nil {
		t.Fatalf("expected Save to reject an op whose prevOp is absent")
	}
}

func TestDiskStoreTerminalOpsTracking(t *testing.T) {
	s := newTestStore(t)
	target := HashOf([]byte("mutable-object"))
	var author Address

	op1 := NewMutationOp("demo.AddAdmin", target, author)
	lit1, err := HashObject(op1)
	if err != nil {
		t.Fatalf("HashObject op1: %v", err)
	}
	if err := s.Save(lit1); err != nil {
		t.Fatalf("Save op1: %v", err)
	}

	ops, ok := s.LoadTerminalOpsForMutable(target)
	if !ok || !ops.Has(lit1.Hash) {
		t.Fatalf("expected op1 to be terminal, got %v ok=%v", ops, ok)
	}

	op2 := NewMutationOp("demo.AddUser", target, author)
	op2.PrevOps.Add(lit1.Hash)
	lit2, err := HashObject(op2)
	if err != nil {
		t.Fatalf("HashObject op2: %v", err)
	}
	if err := s.Save(lit2); err != nil {
		t.Fatalf("Save op2: %v", err)
	}

	ops, ok = s.LoadTerminalOpsForMutable(target)
	if !ok {
		t.Fatalf("expected terminal ops present")
	}
	if ops.Has(lit1.Hash) {
		t.Fatalf("op1 should no longer be terminal once op2 supersedes it")
	}
	if !ops.Has(lit2.Hash) {
		t.Fatalf("op2 should be the new terminal op")
	}
}

func TestDiskStoreWatchReferencesFiresOnSave(t *testing.T) {
	s := newTestStore(t)
	target := HashOf([]byte("watched-object"))
	var author Address

	notified := make(chan Hash, 1)
	s.WatchReferences(targetField, target, func(opHash Hash) {
		notified <- opHash
	})

	op := NewMutationOp("demo.AddAdmin", target, author)
	lit, err := HashObject(op)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	if err := s.Save(lit); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case got := <-notified:
		if got != lit.Hash {
			t.Fatalf("watcher notified with wrong hash: %s != %s", got, lit.Hash)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher callback did not fire in time")
	}
}

func TestDiskStoreLoadReconstructsMutationOp(t *testing.T) {
	s := newTestStore(t)
	target := HashOf([]byte("target-obj"))
	var author Address
	op := NewMutationOp("demo.AddAdmin", target, author)
	op.Payload = []byte(`{"addr":"ab"}`)
	lit, err := HashObject(op)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	if err := s.Save(lit); err != nil {
		t.Fatalf("Save: %v", err)
	}

	obj, err := s.Load(lit.Hash)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	decoded, ok := obj.(*MutationOp)
	if !ok {
		t.Fatalf("expected *MutationOp, got %T", obj)
	}
	if decoded.Target != target {
		t.Fatalf("target mismatch after Load")
	}
}
