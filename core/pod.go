package core

// Agent pod: the in-process event bus a node's agents share (spec §4.2).
// Adapted from core/messages.go's MessageQueue — same mutex-guarded
// registry shape, generalised from a single FIFO queue consumed by one
// processor to a broadcast fan-out consumed by every registered agent.
// Delivery is synchronous, matching the single-threaded cooperative model
// of spec §5: broadcastEvent does not return until every agent's handler
// has run to completion. The order in which agents are visited is not
// defined (the registry is a map).

import (
	"fmt"
	"sync"
)

// PodEventKind names the pod-level events the core's agents care about.
type PodEventKind string

const (
	EventAgentSetChange   PodEventKind = "agent-set-change"
	EventAgentStateUpdate PodEventKind = "agent-state-update"
	EventNewPeer          PodEventKind = "new-peer"
	EventLostPeer         PodEventKind = "lost-peer"
)

// PodEvent is the single event envelope broadcast to every agent. Only the
// fields relevant to Kind are populated.
type PodEvent struct {
	Kind    PodEventKind
	AgentID AgentID      // agent-state-update: which agent changed state
	State   HashedObject // agent-state-update: the new state object
	Peer    NodeID       // new-peer / lost-peer
}

// Agent is anything a pod can address: a local-event handler keyed by its
// own AgentID. The gossip agent and every TerminalOpsSyncAgent register as
// agents of the same pod.
type Agent interface {
	AgentID() AgentID
	HandlePodEvent(ev PodEvent)
}

// AgentPod is the in-process broadcast channel shared by every agent on a
// node (spec §4.2).
type AgentPod struct {
	mu     sync.RWMutex
	agents map[AgentID]Agent
}

func NewAgentPod() *AgentPod {
	return &AgentPod{agents: make(map[AgentID]Agent)}
}

// RegisterAgent adds a to the pod and announces the change to the others.
func (p *AgentPod) RegisterAgent(a Agent) {
	p.mu.Lock()
	p.agents[a.AgentID()] = a
	p.mu.Unlock()
	p.BroadcastEvent(PodEvent{Kind: EventAgentSetChange})
}

// DeregisterAgent removes the agent identified by id, if present.
func (p *AgentPod) DeregisterAgent(id AgentID) {
	p.mu.Lock()
	_, existed := p.agents[id]
	delete(p.agents, id)
	p.mu.Unlock()
	if existed {
		p.BroadcastEvent(PodEvent{Kind: EventAgentSetChange})
	}
}

// BroadcastEvent delivers ev synchronously to every agent registered when
// it is called; the order among agents is not defined.
func (p *AgentPod) BroadcastEvent(ev PodEvent) {
	p.mu.RLock()
	agents := make([]Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.mu.RUnlock()
	for _, a := range agents {
		a.HandlePodEvent(ev)
	}
}

// SendToAgent delivers ev to exactly one agent, point-to-point.
func (p *AgentPod) SendToAgent(id AgentID, ev PodEvent) error {
	p.mu.RLock()
	a, ok := p.agents[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pod: agent %s not registered", id.Short())
	}
	a.HandlePodEvent(ev)
	return nil
}

// Agents returns a snapshot of currently registered agent ids.
func (p *AgentPod) Agents() []AgentID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AgentID, 0, len(p.agents))
	for id := range p.agents {
		out = append(out, id)
	}
	return out
}
