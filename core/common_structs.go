// core/common_structs.go – centralised struct definitions shared across the
// op-graph sync package. Kept separate from the files that use them to avoid
// import-ordering surprises within the single `core` package, following the
// original layout of this file in the teacher tree.
package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

//---------------------------------------------------------------------
// Identity & addressing
//---------------------------------------------------------------------

// Address identifies an authoring identity (the "author" on a MutationOp,
// the "owner" implicit in a signature). Kept at 32 bytes so it can carry a
// public-key hash without truncation.
type Address [32]byte

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(a[:]))
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(decoded) != len(a) {
		return fmt.Errorf("address: want %d bytes, got %d", len(a), len(decoded))
	}
	copy(a[:], decoded)
	return nil
}

// NodeID identifies a peer within a peer group. For the libp2p-backed
// PeerGroup this is the libp2p peer ID string; for the in-memory
// LocalPeerGroup it is any caller-chosen label.
type NodeID string

// PeerInfo is the external view of a connected peer, as surfaced by
// PeerGroup.Peers().
type PeerInfo struct {
	ID      NodeID  `json:"id"`
	Addr    string  `json:"addr,omitempty"`
	RTT     float64 `json:"rtt_ms,omitempty"`
	Updated int64   `json:"updated_unix"`
}

//---------------------------------------------------------------------
// Agent identity & transport-level envelope
//---------------------------------------------------------------------

// AgentID identifies an agent within a pod. The gossip agent tracks a set
// of AgentIDs; for a TerminalOpsSyncAgent the AgentID is the hash of the
// mutable object it reconciles, so gossiped state updates route straight
// back to the sync agent responsible for that object.
type AgentID = Hash

// InboundMsg is what a PeerGroup delivers to a registered agent when a
// message arrives from peer Source, sent by agent Sender and addressed to
// agent Recipient (spec §4.3's receivePeerMessage(source, senderHash,
// recipientHash, content)).
type InboundMsg struct {
	Source    NodeID  `json:"source"`
	Sender    AgentID `json:"sender,omitempty"`
	Recipient AgentID `json:"recipient,omitempty"`
	Content   []byte  `json:"content"`
	Ts        int64   `json:"ts"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }
