package core

import (
	"testing"
	"time"
)

// fakeStateAgent is a minimal StateAgent double: it holds a single
// HashedObject and lets the test drive state changes and observe what
// ReceiveRemoteState was handed.
type fakeStateAgent struct {
	id      AgentID
	state   HashedObject
	hash    Hash
	remotes []Hash
}

func (f *fakeStateAgent) AgentID() AgentID { return f.id }
func (f *fakeStateAgent) CurrentState() (Hash, HashedObject) {
	return f.hash, f.state
}
func (f *fakeStateAgent) ReceiveRemoteState(_ NodeID, stateHash Hash, state HashedObject) (bool, error) {
	for _, h := range f.remotes {
		if h == stateHash {
			return false, nil
		}
	}
	f.remotes = append(f.remotes, stateHash)
	return true, nil
}

func stateFor(root Address) (*PermissionTestClass, Hash) {
	obj := &PermissionTestClass{Root: root}
	lit, err := HashObject(obj)
	if err != nil {
		panic(err)
	}
	return obj, lit.Hash
}

func TestStateGossipAgentTrackSeedsLocalState(t *testing.T) {
	pod := NewAgentPod()
	group := NewLocalPeerGroup("node-a", "group-1", "topic-1", pod, 10)
	g := NewStateGossipAgent(pod, group, nil, DefaultGossipParams())

	obj, hash := stateFor(Address{1})
	lit, err := HashObject(obj)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	agent := &fakeStateAgent{id: HashOf([]byte("tracked")), state: obj, hash: lit.Hash}
	g.Track(agent)

	g.mu.Lock()
	got, ok := g.local[agent.id]
	g.mu.Unlock()
	if !ok || got != hash {
		t.Fatalf("expected Track to seed local state, got %v ok=%v", got, ok)
	}
}

// TestStateGossipAgentConvergesAcrossPeers wires two gossip agents over a
// connected LocalPeerGroup pair, tracks one StateAgent on each side, updates
// a's state and confirms b's tracked agent eventually observes it.
func TestStateGossipAgentConvergesAcrossPeers(t *testing.T) {
	podA, podB := NewAgentPod(), NewAgentPod()
	groupA := NewLocalPeerGroup("node-a", "group-1", "topic-1", podA, 10)
	groupB := NewLocalPeerGroup("node-b", "group-1", "topic-1", podB, 10)

	params := DefaultGossipParams()
	params.MinGossipPeers = 1

	gA := NewStateGossipAgent(podA, groupA, nil, params)
	gB := NewStateGossipAgent(podB, groupB, nil, params)

	objA, hashA := stateFor(Address{1})
	litA, err := HashObject(objA)
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	agentID := HashOf([]byte("shared-agent"))
	trackedA := &fakeStateAgent{id: agentID, state: objA, hash: litA.Hash}
	trackedB := &fakeStateAgent{id: agentID}
	gA.Track(trackedA)
	gB.Track(trackedB)

	groupA.Connect(groupB)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(trackedB.remotes) > 0 && trackedB.remotes[len(trackedB.remotes)-1] == hashA {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected b's tracked agent to observe a's state hash %s, got %v", hashA.Short(), trackedB.remotes)
}

func TestGossipFanoutSizeHonoursMinimumAndAvailability(t *testing.T) {
	if got := gossipFanoutSize(100, 0.2, 4, 50); got != 20 {
		t.Fatalf("expected ceil(100*0.2)=20, got %d", got)
	}
	if got := gossipFanoutSize(10, 0.2, 4, 50); got != 4 {
		t.Fatalf("expected min floor of 4 peers, got %d", got)
	}
	if got := gossipFanoutSize(100, 0.2, 4, 3); got != 3 {
		t.Fatalf("expected fanout clamped to available peer count, got %d", got)
	}
}

func TestPrevStateDequeBoundedAndDeduplicated(t *testing.T) {
	d := newPrevStateDeque(2)
	h1 := HashOf([]byte("s1"))
	h2 := HashOf([]byte("s2"))
	h3 := HashOf([]byte("s3"))

	d.push(h1)
	d.push(h1)
	d.push(h2)
	d.push(h3)

	if !d.has(h3) || !d.has(h2) {
		t.Fatalf("expected the two most recent states to remain cached")
	}
	if d.has(h1) {
		t.Fatalf("expected oldest state to be evicted once capacity exceeded")
	}
}

func TestGossipAgentIDStableForSameGroup(t *testing.T) {
	a := GossipAgentID("group-x")
	b := GossipAgentID("group-x")
	c := GossipAgentID("group-y")
	if a != b {
		t.Fatalf("expected GossipAgentID to be stable for the same group id")
	}
	if a == c {
		t.Fatalf("expected GossipAgentID to differ across distinct group ids")
	}
}
