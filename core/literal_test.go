package core

import "testing"

func TestLiteralizeAndVerify(t *testing.T) {
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	if err := lit.Verify(false); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if lit.Recompute() != lit.Hash {
		t.Fatalf("Recompute mismatch")
	}
}

func TestLiteralizeSameValueSameHash(t *testing.T) {
	a, err := Literalize("demo.Thing", map[string]any{"n": 1, "s": "x"}, nil)
	if err != nil {
		t.Fatalf("Literalize a: %v", err)
	}
	b, err := Literalize("demo.Thing", map[string]any{"s": "x", "n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize b: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("field order should not affect hash: %s != %s", a.Hash, b.Hash)
	}
}

func TestVerifyDetectsTamperedHash(t *testing.T) {
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	lit.Hash = HashOf([]byte("something else"))
	if err := lit.Verify(false); err != ErrHashMismatch {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestVerifyRequiresSignature(t *testing.T) {
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	if err := lit.Verify(true); err != ErrMissingSignatures {
		t.Fatalf("expected ErrMissingSignatures, got %v", err)
	}
}

func TestSignAndVerifySignatures(t *testing.T) {
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	signer := NewHMACSigner()
	var author Address
	author[0] = 0x42
	signer.SetSecret(author, []byte("shared-secret"))

	if err := lit.Sign(signer, author); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := lit.Verify(true); err != nil {
		t.Fatalf("Verify after sign: %v", err)
	}
	if err := lit.VerifySignatures(signer); err != nil {
		t.Fatalf("VerifySignatures: %v", err)
	}
}

func TestVerifySignaturesRejectsWrongSigner(t *testing.T) {
	lit, err := Literalize("demo.Thing", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	var author Address
	author[0] = 0x01

	signer := NewHMACSigner()
	signer.SetSecret(author, []byte("real-secret"))
	if err := lit.Sign(signer, author); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := NewHMACSigner()
	other.SetSecret(author, []byte("wrong-secret"))
	if err := lit.VerifySignatures(other); err == nil {
		t.Fatalf("expected verification failure with mismatched secret")
	}
}

func TestDependencyByHash(t *testing.T) {
	target := HashOf([]byte("target"))
	lit, err := Literalize("demo.Thing", map[string]any{"target": target}, []Dependency{
		{Hash: target, Path: "target", Type: DependencyTypeReference},
	})
	if err != nil {
		t.Fatalf("Literalize: %v", err)
	}
	dep, ok := lit.DependencyByHash(target)
	if !ok || dep.Path != "target" {
		t.Fatalf("expected to find dependency at path target, got %+v ok=%v", dep, ok)
	}
	if _, ok := lit.DependencyByHash(HashOf([]byte("absent"))); ok {
		t.Fatalf("unexpected dependency match for absent hash")
	}
}
