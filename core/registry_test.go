package core

import (
	"encoding/json"
	"testing"
)

func TestRegisterClassAndDecode(t *testing.T) {
	const class = "test.RegistryProbe"
	if IsRegistered(class) {
		t.Fatalf("class unexpectedly pre-registered")
	}
	RegisterClass(class, func(value json.RawMessage, _ []Dependency) (HashedObject, error) {
		return &PermissionTestClass{}, nil
	})
	if !IsRegistered(class) {
		t.Fatalf("expected class to be registered")
	}
	obj, err := DecodeClass(class, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("DecodeClass: %v", err)
	}
	if _, ok := obj.(*PermissionTestClass); !ok {
		t.Fatalf("unexpected decoded type %T", obj)
	}
}

func TestRegisterClassPanicsOnDuplicate(t *testing.T) {
	const class = "test.DuplicateProbe"
	RegisterClass(class, func(value json.RawMessage, _ []Dependency) (HashedObject, error) {
		return nil, nil
	})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	RegisterClass(class, func(value json.RawMessage, _ []Dependency) (HashedObject, error) {
		return nil, nil
	})
}

func TestDecodeClassUnknown(t *testing.T) {
	_, err := DecodeClass("test.NeverRegistered", []byte(`{}`), nil)
	if err == nil {
		t.Fatalf("expected error for unknown class")
	}
}
