package core

import "errors"

// Error kinds per the error-handling design (spec §7). None of these
// propagate above the sync layer; agents log and handle them internally.
var (
	ErrHashMismatch         = errors.New("literal hash does not match recomputed hash")
	ErrMissingSignatures    = errors.New("literal missing required signatures")
	ErrMissingDependency    = errors.New("dependency not present locally")
	ErrInvalidOwnershipProof = errors.New("ownership proof does not match")
	ErrUnacceptableOp       = errors.New("op class not accepted for target")
	ErrWrongTarget          = errors.New("message target does not match local object")
	ErrNoPeersAvailable     = errors.New("no peers available")
	ErrUnknownClass         = errors.New("unregistered class name")
	ErrAlreadyRegistered    = errors.New("class already registered")
)
