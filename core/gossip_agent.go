package core

// State gossip agent (spec §4.4). Diffuses per-agent state hashes across a
// peer group and triggers full-state retrieval on mismatch. The randomized
// fanout selection is adapted from core/peer_management.go's
// shufflePeerInfo (crypto/rand Fisher-Yates) and the sampled-subset gossip
// shape of core/replication.go's ReplicateBlock; the background
// retry/self-heal loop borrows core/blockchain_synchronization.go's
// SyncManager Start/Stop/loop shape.

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"math"
	"math/big"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// GossipParams are the tunables of the gossip protocol, defaulted per §4.4.
type GossipParams struct {
	PeerGossipFraction   float64
	PeerGossipProb       float64
	MinGossipPeers       int
	MaxCachedPrevStates  int
	NewStateErrorRetries int
	NewStateErrorDelay   time.Duration
	MaxGossipDelay       time.Duration
}

// DefaultGossipParams returns the spec's documented defaults.
func DefaultGossipParams() GossipParams {
	return GossipParams{
		PeerGossipFraction:   0.2,
		PeerGossipProb:       0.5,
		MinGossipPeers:       4,
		MaxCachedPrevStates:  50,
		NewStateErrorRetries: 3,
		NewStateErrorDelay:   1500 * time.Millisecond,
		MaxGossipDelay:       5000 * time.Millisecond,
	}
}

// StateAgent is any agent the gossip layer diffuses state for — in this
// core, every TerminalOpsSyncAgent.
type StateAgent interface {
	AgentID() AgentID
	CurrentState() (Hash, HashedObject)
	// ReceiveRemoteState folds in a state received from a peer and reports
	// whether it was new to the agent.
	ReceiveRemoteState(source NodeID, stateHash Hash, state HashedObject) (isNew bool, err error)
}

// StateGossipAgent implements the diffusion protocol of spec §4.4.
type StateGossipAgent struct {
	id        AgentID
	groupID   string
	pod       *AgentPod
	peerGroup PeerGroup
	logger    *logrus.Logger
	params    GossipParams

	mu            sync.Mutex
	tracked       map[AgentID]StateAgent
	local         map[AgentID]Hash
	localObjects  map[AgentID]HashedObject
	remote        map[NodeID]map[AgentID]Hash
	remoteObjects map[NodeID]map[AgentID]HashedObject
	prevStates    map[AgentID]*prevStateDeque
}

// GossipAgentID derives the stable AgentID every peer's gossip agent for the
// same peer group shares, so messages addressed to "the gossip agent" route
// consistently across nodes without prior negotiation.
func GossipAgentID(groupID string) AgentID {
	return HashOf([]byte("gossip-agent:" + groupID))
}

// NewStateGossipAgent creates a gossip agent for peerGroup and registers it
// with both pod and peerGroup.
func NewStateGossipAgent(pod *AgentPod, peerGroup PeerGroup, logger *logrus.Logger, params GossipParams) *StateGossipAgent {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := &StateGossipAgent{
		id:            GossipAgentID(peerGroup.PeerGroupID()),
		groupID:       peerGroup.PeerGroupID(),
		pod:           pod,
		peerGroup:     peerGroup,
		logger:        logger,
		params:        params,
		tracked:       make(map[AgentID]StateAgent),
		local:         make(map[AgentID]Hash),
		localObjects:  make(map[AgentID]HashedObject),
		remote:        make(map[NodeID]map[AgentID]Hash),
		remoteObjects: make(map[NodeID]map[AgentID]HashedObject),
		prevStates:    make(map[AgentID]*prevStateDeque),
	}
	pod.RegisterAgent(g)
	peerGroup.RegisterAgent(g)
	return g
}

func (g *StateGossipAgent) AgentID() AgentID { return g.id }

// Track starts diffusing state on behalf of a local StateAgent.
func (g *StateGossipAgent) Track(a StateAgent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracked[a.AgentID()] = a
	g.prevStates[a.AgentID()] = newPrevStateDeque(g.params.MaxCachedPrevStates)
	if h, obj := a.CurrentState(); !h.IsZero() {
		g.local[a.AgentID()] = h
		g.localObjects[a.AgentID()] = obj
	}
}

//---------------------------------------------------------------------
// Pod events
//---------------------------------------------------------------------

func (g *StateGossipAgent) HandlePodEvent(ev PodEvent) {
	switch ev.Kind {
	case EventNewPeer:
		g.onNewPeer(ev.Peer)
	case EventAgentStateUpdate:
		g.onAgentStateUpdate(ev.AgentID, ev.State)
	}
}

// onNewPeer implements step 1: announce our full state to a freshly
// connected peer.
func (g *StateGossipAgent) onNewPeer(peer NodeID) {
	body := sendFullStateMsg{Entries: g.entriesLocked()}
	g.send(peer, msgSendFullState, body)
}

func (g *StateGossipAgent) entriesLocked() []agentHashPair {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]agentHashPair, 0, len(g.local))
	for id, h := range g.local {
		out = append(out, agentHashPair{AgentID: id, Hash: h})
	}
	return out
}

// onAgentStateUpdate implements step 2.
func (g *StateGossipAgent) onAgentStateUpdate(agentID AgentID, newState HashedObject) {
	lit, err := HashObject(newState)
	if err != nil {
		g.logger.Warnf("gossip: hash new state for %s: %v", agentID.Short(), err)
		return
	}

	g.mu.Lock()
	if _, tracked := g.tracked[agentID]; !tracked {
		g.mu.Unlock()
		return
	}
	prior, had := g.local[agentID]
	if had && prior == lit.Hash {
		g.mu.Unlock()
		return
	}
	if had {
		g.prevStates[agentID].push(prior)
	}
	g.local[agentID] = lit.Hash
	g.localObjects[agentID] = newState
	g.mu.Unlock()

	g.gossipState(agentID, "")
}

// gossipState sends send-state-object to a randomized subset of peers,
// excluding excludeEndpoint if the update was re-gossiped from elsewhere.
func (g *StateGossipAgent) gossipState(agentID AgentID, excludeEndpoint NodeID) {
	targets := g.chooseGossipPeers(excludeEndpoint)
	for _, p := range targets {
		g.sendStateObjectTo(p, agentID)
	}
}

func (g *StateGossipAgent) chooseGossipPeers(exclude NodeID) []NodeID {
	peers := g.peerGroup.Peers()
	ids := make([]NodeID, 0, len(peers))
	for _, p := range peers {
		if p.ID == exclude {
			continue
		}
		ids = append(ids, p.ID)
	}
	shuffleNodeIDs(ids)
	size := gossipFanoutSize(g.peerGroup.Params().MaxPeers, g.params.PeerGossipFraction, g.params.MinGossipPeers, len(ids))
	if size > len(ids) {
		size = len(ids)
	}
	return ids[:size]
}

// gossipFanoutSize implements max(minGossipPeers, ceil(maxPeers*fraction)),
// clamped to the number of peers actually available.
func gossipFanoutSize(maxPeers int, fraction float64, min int, available int) int {
	n := int(math.Ceil(float64(maxPeers) * fraction))
	if n < min {
		n = min
	}
	if n > available {
		n = available
	}
	return n
}

func shuffleNodeIDs(ids []NodeID) {
	for i := len(ids) - 1; i > 0; i-- {
		jBig, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func (g *StateGossipAgent) sendStateObjectTo(to NodeID, agentID AgentID) {
	g.mu.Lock()
	h, ok := g.local[agentID]
	obj := g.localObjects[agentID]
	g.mu.Unlock()
	if !ok {
		return
	}
	lit, err := HashObject(obj)
	if err != nil {
		g.logger.Warnf("gossip: literalize state for %s: %v", agentID.Short(), err)
		return
	}
	_ = h
	g.send(to, msgSendStateObject, sendStateObjectMsg{AgentID: agentID, State: lit, Timestamp: nowMillis()})
}

//---------------------------------------------------------------------
// Peer messages
//---------------------------------------------------------------------

func (g *StateGossipAgent) ReceivePeerMessage(msg InboundMsg) {
	var env envelope
	if err := json.Unmarshal(msg.Content, &env); err != nil {
		g.logger.Warnf("gossip: malformed message from %s: %v", msg.Source, err)
		return
	}
	switch env.Type {
	case msgSendFullState:
		var body sendFullStateMsg
		if json.Unmarshal(env.Body, &body) == nil {
			g.handleSendFullState(msg.Source, body)
		}
	case msgSendStateObject:
		var body sendStateObjectMsg
		if json.Unmarshal(env.Body, &body) == nil {
			g.handleSendStateObject(msg.Source, body)
		}
	case msgRequestFullState:
		g.onNewPeer(msg.Source)
	case msgRequestStateObject:
		var body requestStateObjectMsg
		if json.Unmarshal(env.Body, &body) == nil {
			g.sendStateObjectTo(msg.Source, body.AgentID)
		}
	}
}

// handleSendFullState implements step 3.
func (g *StateGossipAgent) handleSendFullState(source NodeID, body sendFullStateMsg) {
	for _, entry := range body.Entries {
		g.mu.Lock()
		_, tracked := g.tracked[entry.AgentID]
		local, haveLocal := g.local[entry.AgentID]
		stale := false
		if d, ok := g.prevStates[entry.AgentID]; ok {
			stale = d.has(entry.Hash)
		}
		g.mu.Unlock()
		if !tracked || stale || (haveLocal && local == entry.Hash) {
			continue
		}

		if source2, obj, ok := g.findCachedRemote(entry.AgentID, entry.Hash); ok {
			g.deliverRemoteState(source2, entry.AgentID, entry.Hash, obj)
			continue
		}
		g.send(source, msgRequestStateObject, requestStateObjectMsg{AgentID: entry.AgentID})
	}
}

// findCachedRemote looks for any other peer's already-cached object for
// (agentID, hash) — the tie-break rule in §4.4: first arrival wins the
// object lookup, later advertisements of the same hash are suppressed.
func (g *StateGossipAgent) findCachedRemote(agentID AgentID, hash Hash) (NodeID, HashedObject, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for endpoint, byAgent := range g.remote {
		if byAgent[agentID] == hash {
			if obj, ok := g.remoteObjects[endpoint][agentID]; ok {
				return endpoint, obj, true
			}
		}
	}
	return "", nil, false
}

// handleSendStateObject implements step 4.
func (g *StateGossipAgent) handleSendStateObject(source NodeID, body sendStateObjectMsg) {
	if body.State == nil {
		return
	}
	if err := body.State.Verify(false); err != nil {
		g.logger.Warnf("gossip: %v from %s", err, source)
		return
	}
	obj, err := DecodeClass(body.State.ClassName, body.State.Value, body.State.Dependencies)
	if err != nil {
		g.logger.Warnf("gossip: decode state for %s from %s: %v", body.AgentID.Short(), source, err)
		return
	}

	g.mu.Lock()
	if g.remote[source] == nil {
		g.remote[source] = make(map[AgentID]Hash)
		g.remoteObjects[source] = make(map[AgentID]HashedObject)
	}
	g.remote[source][body.AgentID] = body.State.Hash
	g.remoteObjects[source][body.AgentID] = obj
	g.mu.Unlock()

	g.deliverRemoteState(source, body.AgentID, body.State.Hash, obj)
}

// deliverRemoteState hands the state to the tracked agent off the pod's
// synchronous dispatch path, retrying transient errors up to exactly
// NewStateErrorRetries times before giving up on that state.
func (g *StateGossipAgent) deliverRemoteState(source NodeID, agentID AgentID, stateHash Hash, state HashedObject) {
	go func() {
		var isNew bool
		var err error
		for attempt := 0; attempt <= g.params.NewStateErrorRetries; attempt++ {
			g.mu.Lock()
			agent, ok := g.tracked[agentID]
			g.mu.Unlock()
			if !ok {
				return
			}
			isNew, err = agent.ReceiveRemoteState(source, stateHash, state)
			if err == nil {
				break
			}
			g.logger.Warnf("gossip: receiveRemoteState %s from %s attempt %d: %v", agentID.Short(), source, attempt+1, err)
			if attempt < g.params.NewStateErrorRetries {
				time.Sleep(g.params.NewStateErrorDelay)
			}
		}
		if err != nil {
			g.logger.Warnf("gossip: giving up on state %s for %s from %s", stateHash.Short(), agentID.Short(), source)
			return
		}
		if !isNew {
			g.mu.Lock()
			localHash, tracked := g.local[agentID]
			g.mu.Unlock()
			if tracked && localHash != stateHash {
				g.sendStateObjectTo(source, agentID)
			}
		}
	}()
}

func (g *StateGossipAgent) send(to NodeID, msgType string, body any) {
	data, err := wrap(msgType, body)
	if err != nil {
		g.logger.Warnf("gossip: encode %s: %v", msgType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.params.MaxGossipDelay)
	defer cancel()
	if err := g.peerGroup.SendMessage(ctx, to, g.id, g.id, data); err != nil {
		g.logger.Warnf("gossip: send %s to %s: %v", msgType, to, err)
	}
}

//---------------------------------------------------------------------
// prevStatesCache
//---------------------------------------------------------------------

// prevStateDeque is a bounded, insertion-ordered set of superseded state
// hashes for one agent, used to recognize stale states re-advertised by a
// peer (spec §4.4 prevStatesCache).
type prevStateDeque struct {
	max   int
	order []Hash
	set   HashSet
}

func newPrevStateDeque(max int) *prevStateDeque {
	if max <= 0 {
		max = 50
	}
	return &prevStateDeque{max: max, set: NewHashSet()}
}

func (d *prevStateDeque) push(h Hash) {
	if d.set.Has(h) {
		return
	}
	d.order = append(d.order, h)
	d.set.Add(h)
	if len(d.order) > d.max {
		oldest := d.order[0]
		d.order = d.order[1:]
		d.set.Remove(oldest)
	}
}

func (d *prevStateDeque) has(h Hash) bool { return d.set.Has(h) }
