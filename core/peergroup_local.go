package core

// LocalPeerGroup is an in-memory PeerGroup double: peers are wired together
// directly in the same process, delivery is synchronous, and there is no
// serialization boundary. It exists purely to exercise the gossip and sync
// agents deterministically in tests, the same role core/peer_management.go's
// PeerManagement plays against a real Node in the teacher tree, minus the
// libp2p host.

import (
	"context"
	"fmt"
	"sync"
)

// LocalPeerGroup implements PeerGroup over direct in-process references to
// other LocalPeerGroup instances.
type LocalPeerGroup struct {
	mu      sync.RWMutex
	self    NodeID
	groupID string
	topic   string
	params  PeerGroupParams

	peers   map[NodeID]*LocalPeerGroup
	agents  map[AgentID]PeerMessageAgent
	pod     *AgentPod
	updated map[NodeID]int64
}

// NewLocalPeerGroup creates a peer group endpoint identified as self,
// raising new-peer/lost-peer events on pod.
func NewLocalPeerGroup(self NodeID, groupID, topic string, pod *AgentPod, maxPeers int) *LocalPeerGroup {
	return &LocalPeerGroup{
		self:    self,
		groupID: groupID,
		topic:   topic,
		params:  PeerGroupParams{MaxPeers: maxPeers},
		peers:   make(map[NodeID]*LocalPeerGroup),
		agents:  make(map[AgentID]PeerMessageAgent),
		pod:     pod,
		updated: make(map[NodeID]int64),
	}
}

// Connect wires g and other together bidirectionally and raises new-peer on
// both sides' pods.
func (g *LocalPeerGroup) Connect(other *LocalPeerGroup) {
	g.mu.Lock()
	g.peers[other.self] = other
	g.updated[other.self] = nowMillis()
	g.mu.Unlock()

	other.mu.Lock()
	other.peers[g.self] = g
	other.updated[g.self] = nowMillis()
	other.mu.Unlock()

	if g.pod != nil {
		g.pod.BroadcastEvent(PodEvent{Kind: EventNewPeer, Peer: other.self})
	}
	if other.pod != nil {
		other.pod.BroadcastEvent(PodEvent{Kind: EventNewPeer, Peer: g.self})
	}
}

// Disconnect tears down the link to peer id from g's side and raises
// lost-peer. The remote side is left untouched — call Disconnect on both
// ends to fully sever the link, mirroring a real transport where either
// side may observe the drop independently.
func (g *LocalPeerGroup) Disconnect(id NodeID) {
	g.mu.Lock()
	_, existed := g.peers[id]
	delete(g.peers, id)
	delete(g.updated, id)
	g.mu.Unlock()
	if existed && g.pod != nil {
		g.pod.BroadcastEvent(PodEvent{Kind: EventLostPeer, Peer: id})
	}
}

func (g *LocalPeerGroup) LocalEndpoint() NodeID { return g.self }

func (g *LocalPeerGroup) Peers() []PeerInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PeerInfo, 0, len(g.peers))
	for id := range g.peers {
		out = append(out, PeerInfo{ID: id, Updated: g.updated[id]})
	}
	return out
}

func (g *LocalPeerGroup) Params() PeerGroupParams { return g.params }
func (g *LocalPeerGroup) PeerGroupID() string     { return g.groupID }
func (g *LocalPeerGroup) Topic() string           { return g.topic }

// SendMessage delivers content synchronously to the named peer's matching
// registered agent, if any.
func (g *LocalPeerGroup) SendMessage(_ context.Context, to NodeID, sender, recipient AgentID, content []byte) error {
	g.mu.RLock()
	peer, ok := g.peers[to]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPeersAvailable, to)
	}
	peer.deliver(InboundMsg{
		Source:    g.self,
		Sender:    sender,
		Recipient: recipient,
		Content:   append([]byte(nil), content...),
		Ts:        nowMillis(),
	})
	return nil
}

func (g *LocalPeerGroup) deliver(msg InboundMsg) {
	g.mu.RLock()
	a, ok := g.agents[msg.Recipient]
	g.mu.RUnlock()
	if ok {
		a.ReceivePeerMessage(msg)
	}
}

func (g *LocalPeerGroup) RegisterAgent(a PeerMessageAgent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents[a.AgentID()] = a
}

func (g *LocalPeerGroup) DeregisterAgent(id AgentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.agents, id)
}

var _ PeerGroup = (*LocalPeerGroup)(nil)
