package core

// PermissionTestClass is a worked mutable-object implementation used by the
// seed-test scenarios (spec §8, S1/S2), built only on MutationOp/OpLog/
// CascadeUndo. It is deliberately small: admins can add/revoke other admins
// and add users, and every AddUser op is causally justified by the AddAdmin
// op of whoever added the user, so revoking that admin cascades.

import "encoding/json"

const (
	ClassAddAdmin    = "demo.AddAdmin"
	ClassRevokeAdmin = "demo.RevokeAdmin"
	ClassAddUser     = "demo.AddUser"
)

type addAdminPayload struct {
	Addr Address `json:"addr"`
}

type addUserPayload struct {
	Addr Address `json:"addr"`
}

// PermissionTestClass is the root mutable object: its own hash is the
// target every AddAdmin/RevokeAdmin/AddUser op points at.
type PermissionTestClass struct {
	Root Address
}

func (p *PermissionTestClass) ClassName() string { return "demo.PermissionTest" }

func (p *PermissionTestClass) ToLiteralValue() (any, []Dependency) {
	return map[string]any{"root": p.Root}, nil
}

func (p *PermissionTestClass) AcceptedOpClasses() []string {
	return []string{ClassAddAdmin, ClassRevokeAdmin, ClassAddUser, UndoOpClass}
}

// NewAddAdminOp grants admin to addr. Reversible: a later RevokeAdmin is
// modelled as an explicit undo of this op, not a separate op class, so that
// anything causally justified by this grant cascades when it is undone.
func NewAddAdminOp(target Hash, author Address, addr Address) (*MutationOp, error) {
	payload, err := json.Marshal(addAdminPayload{Addr: addr})
	if err != nil {
		return nil, err
	}
	op := NewMutationOp(ClassAddAdmin, target, author)
	op.Payload = payload
	op.Reversible = true
	return op, nil
}

// NewAddUserOp adds addr as a user, justified by the admin op (adminOpHash)
// of the author performing the add. If that admin grant is later undone,
// CascadeUndo invalidates this op too.
func NewAddUserOp(target Hash, author Address, addr Address, adminOpHash Hash) (*MutationOp, error) {
	payload, err := json.Marshal(addUserPayload{Addr: addr})
	if err != nil {
		return nil, err
	}
	op := NewMutationOp(ClassAddUser, target, author)
	op.Payload = payload
	op.CausalOps.Add(adminOpHash)
	// Reversible so CascadeUndo can emit an undo for it when the admin grant
	// that justified it is itself undone.
	op.Reversible = true
	return op, nil
}

// IsAdmin folds the log in insertion order and reports whether addr holds
// admin at the end of the fold.
func (p *PermissionTestClass) IsAdmin(log *OpLog, addr Address) bool {
	admin := false
	for _, h := range log.order {
		if !log.IsLive(h) {
			continue
		}
		op, _ := log.Op(h)
		if op.Class != ClassAddAdmin {
			continue
		}
		var pl addAdminPayload
		if err := json.Unmarshal(op.Payload, &pl); err == nil && pl.Addr == addr {
			admin = true
		}
	}
	return admin
}

// IsUser folds the log in insertion order and reports whether addr is a
// live user — false if the AddUser op itself was cascaded-undone.
func (p *PermissionTestClass) IsUser(log *OpLog, addr Address) bool {
	user := false
	for _, h := range log.order {
		op, _ := log.Op(h)
		if op == nil || op.Class != ClassAddUser {
			continue
		}
		var pl addUserPayload
		if err := json.Unmarshal(op.Payload, &pl); err != nil || pl.Addr != addr {
			continue
		}
		user = log.IsLive(h)
	}
	return user
}

func init() {
	RegisterClass("demo.PermissionTest", func(value json.RawMessage, _ []Dependency) (HashedObject, error) {
		var w struct {
			Root Address `json:"root"`
		}
		if err := json.Unmarshal(value, &w); err != nil {
			return nil, err
		}
		return &PermissionTestClass{Root: w.Root}, nil
	})
}
