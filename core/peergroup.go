package core

// Peer-group agent (spec §4.3). This is the one external contract the core
// only consumes: who is connected, a way to address a message to one of
// them, and join/leave notifications on the pod. PeerGroup is intentionally
// narrow so it can be satisfied by an in-memory double for tests
// (LocalPeerGroup) or a libp2p-pubsub transport (P2PPeerGroup).

import "context"

// PeerGroupParams mirrors the subset of peer-group configuration the
// gossip agent needs to size its fanout.
type PeerGroupParams struct {
	MaxPeers int
}

// PeerMessageAgent is the receiving half of receivePeerMessage: any agent
// that wants inbound peer traffic registers itself with a PeerGroup under
// this interface.
type PeerMessageAgent interface {
	AgentID() AgentID
	ReceivePeerMessage(msg InboundMsg)
}

// PeerGroup is the transport/membership contract the core depends on
// without caring how peers actually connect.
type PeerGroup interface {
	LocalEndpoint() NodeID
	Peers() []PeerInfo
	Params() PeerGroupParams
	PeerGroupID() string
	Topic() string

	// SendMessage delivers content from sender to recipient on peer to.
	SendMessage(ctx context.Context, to NodeID, sender, recipient AgentID, content []byte) error

	// RegisterAgent and DeregisterAgent control which local agents receive
	// receivePeerMessage callbacks for inbound traffic on this group.
	RegisterAgent(a PeerMessageAgent)
	DeregisterAgent(id AgentID)
}
