package core

// P2PPeerGroup is the libp2p-pubsub-backed PeerGroup, adapted from
// core/network.go's Node (gossipsub host, topic join/subscribe, mDNS
// discovery) and core/peer_management.go's PeerManagement (peer tracking,
// AddrInfo dialing). A gossipsub topic per peer group multicasts rather
// than addresses a single peer directly, so SendMessage publishes an
// envelope carrying the logical sender/recipient AgentIDs and every
// subscriber discards what isn't addressed to one of its own registered
// agents — the closest fit to "send a message to a named peer" pubsub
// itself offers without a separate per-peer stream protocol.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

type wireEnvelope struct {
	Sender    AgentID `json:"sender"`
	Recipient AgentID `json:"recipient"`
	Content   []byte  `json:"content"`
}

// P2PPeerGroup is one node's membership in a browser-to-browser-style mesh,
// realised over libp2p pubsub for this deployment target.
type P2PPeerGroup struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	groupID   string
	topicName string
	params    PeerGroupParams
	logger    *logrus.Logger

	mu     sync.RWMutex
	peers  map[NodeID]*PeerInfo
	agents map[AgentID]PeerMessageAgent

	pod *AgentPod
}

// NewP2PPeerGroup starts a libp2p host listening on listenAddr, joins
// topicName and begins mDNS discovery of other members of groupID.
func NewP2PPeerGroup(ctx context.Context, listenAddr, groupID, topicName string, maxPeers int, pod *AgentPod, logger *logrus.Logger) (*P2PPeerGroup, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(cctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: pubsub: %w", err)
	}
	t, err := ps.Join(topicName)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: join topic %s: %w", topicName, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: subscribe %s: %w", topicName, err)
	}

	g := &P2PPeerGroup{
		host:      h,
		ps:        ps,
		topic:     t,
		sub:       sub,
		ctx:       cctx,
		cancel:    cancel,
		groupID:   groupID,
		topicName: topicName,
		params:    PeerGroupParams{MaxPeers: maxPeers},
		logger:    logger,
		peers:     make(map[NodeID]*PeerInfo),
		agents:    make(map[AgentID]PeerMessageAgent),
		pod:       pod,
	}

	mdns.NewMdnsService(h, groupID, g)

	go g.readLoop()
	return g, nil
}

// HandlePeerFound implements mdns.Notifee: connect to and register newly
// discovered members of the group.
func (g *P2PPeerGroup) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == g.host.ID() {
		return
	}
	if err := g.host.Connect(g.ctx, info); err != nil {
		g.logger.Warnf("p2p: connect %s: %v", info.ID, err)
		return
	}
	id := NodeID(info.ID.String())
	g.mu.Lock()
	_, existed := g.peers[id]
	g.peers[id] = &PeerInfo{ID: id, Updated: nowMillis()}
	g.mu.Unlock()
	if !existed && g.pod != nil {
		g.pod.BroadcastEvent(PodEvent{Kind: EventNewPeer, Peer: id})
	}
}

func (g *P2PPeerGroup) readLoop() {
	for {
		msg, err := g.sub.Next(g.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == g.host.ID() {
			continue
		}
		var env wireEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			g.logger.Warnf("p2p: malformed envelope from %s: %v", msg.GetFrom(), err)
			continue
		}
		g.mu.RLock()
		a, ok := g.agents[env.Recipient]
		g.mu.RUnlock()
		if !ok {
			continue
		}
		a.ReceivePeerMessage(InboundMsg{
			Source:    NodeID(msg.GetFrom().String()),
			Sender:    env.Sender,
			Recipient: env.Recipient,
			Content:   env.Content,
			Ts:        nowMillis(),
		})
	}
}

func (g *P2PPeerGroup) LocalEndpoint() NodeID { return NodeID(g.host.ID().String()) }

func (g *P2PPeerGroup) Peers() []PeerInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PeerInfo, 0, len(g.peers))
	for _, p := range g.peers {
		out = append(out, *p)
	}
	return out
}

func (g *P2PPeerGroup) Params() PeerGroupParams { return g.params }
func (g *P2PPeerGroup) PeerGroupID() string     { return g.groupID }
func (g *P2PPeerGroup) Topic() string           { return g.topicName }

// SendMessage publishes an envelope on the shared topic; the "to" endpoint
// is advisory only under pure pubsub delivery (see package comment).
func (g *P2PPeerGroup) SendMessage(ctx context.Context, _ NodeID, sender, recipient AgentID, content []byte) error {
	env := wireEnvelope{Sender: sender, Recipient: recipient, Content: content}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: marshal envelope: %w", err)
	}
	if err := g.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("p2p: publish: %w", err)
	}
	return nil
}

func (g *P2PPeerGroup) RegisterAgent(a PeerMessageAgent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents[a.AgentID()] = a
}

func (g *P2PPeerGroup) DeregisterAgent(id AgentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.agents, id)
}

// Close tears down the subscription, topic and host.
func (g *P2PPeerGroup) Close() error {
	g.sub.Cancel()
	_ = g.topic.Close()
	g.cancel()
	return g.host.Close()
}

var _ PeerGroup = (*P2PPeerGroup)(nil)
