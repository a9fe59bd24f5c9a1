package core

// Terminal-ops sync agent (spec §4.5, §6). One TerminalOpsSyncAgent reconciles
// one mutable object's op DAG against its peers: it tracks the local
// terminal-ops frontier as a StateAgent (so StateGossipAgent can diffuse its
// hash), and separately speaks the request-state/send-state/request-objs/
// send-objs protocol as a PeerMessageAgent to actually move missing ops and
// their dependencies across the wire. Adapted from
// core/blockchain_synchronization.go's SyncManager (outstanding-request
// bookkeeping, periodic housekeeping sweep) and core/replication.go's
// pending-fetch retry loop, generalised from block/height sync to op-hash
// sync with the dependency-chain and ownership-proof machinery spec'd here.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SyncParams bounds how long a sync agent waits on various legs of the
// protocol before giving up (spec §4.5 defaults).
type SyncParams struct {
	SendTimeout          time.Duration
	ReceiveTimeout       time.Duration
	IncompleteOpTimeout  time.Duration
	HousekeepingInterval time.Duration
}

// DefaultSyncParams mirrors the documented defaults: a minute to hand an
// object off, ninety seconds to receive one we asked for, an hour before an
// incomplete op's partially-gathered context is abandoned.
func DefaultSyncParams() SyncParams {
	return SyncParams{
		SendTimeout:          60 * time.Second,
		ReceiveTimeout:       90 * time.Second,
		IncompleteOpTimeout:  time.Hour,
		HousekeepingInterval: 5 * time.Second,
	}
}

// movement tracks one in-flight, per-endpoint transfer of object h: either
// something we asked for and are waiting to receive (incoming), or something
// we were asked for but didn't yet have locally (outgoing).
type movement struct {
	chain    []Hash
	secret   []byte
	deadline time.Time
}

// pendingContext accumulates the literals gathered so far for an op whose
// dependency closure isn't complete yet.
type pendingContext struct {
	literals map[Hash]*Literal
}

// IncompleteOp is a mutation op (or, transiently, one of its dependencies)
// whose full context hasn't arrived yet (spec §4.5 "Incomplete op").
type IncompleteOp struct {
	source    NodeID
	ctx       *pendingContext
	missing   map[Hash]requestedObject
	secret    []byte
	expiresAt time.Time
}

// TerminalOpsSyncAgent reconciles the op DAG for one mutable object
// (identified by objHash) against its peers. It implements gossip_agent.go's
// StateAgent interface so its frontier gets gossiped the same way any other
// agent state does.
type TerminalOpsSyncAgent struct {
	objHash         Hash
	acceptedClasses map[string]struct{}
	store           Store
	pod             *AgentPod
	peerGroup       PeerGroup
	logger          *logrus.Logger
	params          SyncParams

	mu            sync.Mutex
	state         *TerminalOpsState
	stateHash     Hash
	outgoing      map[Hash]map[NodeID]*movement
	incoming      map[Hash]map[NodeID]*movement
	incomplete    map[Hash]*IncompleteOp
	opsForMissing map[Hash]HashSet

	started bool
	quit    chan struct{}
}

// NewTerminalOpsSyncAgent constructs a sync agent for objHash, accepting
// mutation ops of the given classes, and registers it with pod and
// peerGroup. Call Start to begin its housekeeping sweep.
func NewTerminalOpsSyncAgent(objHash Hash, acceptedClasses []string, store Store, pod *AgentPod, peerGroup PeerGroup, logger *logrus.Logger, params SyncParams) *TerminalOpsSyncAgent {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	classes := make(map[string]struct{}, len(acceptedClasses))
	for _, c := range acceptedClasses {
		classes[c] = struct{}{}
	}
	a := &TerminalOpsSyncAgent{
		objHash:         objHash,
		acceptedClasses: classes,
		store:           store,
		pod:             pod,
		peerGroup:       peerGroup,
		logger:          logger,
		params:          params,
		outgoing:        make(map[Hash]map[NodeID]*movement),
		incoming:        make(map[Hash]map[NodeID]*movement),
		incomplete:      make(map[Hash]*IncompleteOp),
		opsForMissing:   make(map[Hash]HashSet),
		quit:            make(chan struct{}),
	}

	terminal, ok := store.LoadTerminalOpsForMutable(objHash)
	if !ok {
		terminal = NewHashSet()
	}
	a.state = &TerminalOpsState{MutableObjHash: objHash, TerminalOps: terminal}
	if lit, err := HashObject(a.state); err == nil {
		a.stateHash = lit.Hash
	} else {
		a.logger.Warnf("sync: hash initial state for %s: %v", objHash.Short(), err)
	}

	store.WatchReferences(targetField, objHash, a.onOpPersisted)
	pod.RegisterAgent(a)
	peerGroup.RegisterAgent(a)
	return a
}

// Start begins the periodic housekeeping sweep that expires stale
// movements and abandoned incomplete ops.
func (a *TerminalOpsSyncAgent) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()
	go a.sweepLoop()
}

// Shutdown stops the housekeeping sweep and deregisters from pod/peerGroup.
func (a *TerminalOpsSyncAgent) Shutdown() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.mu.Unlock()
	close(a.quit)
	a.pod.DeregisterAgent(a.objHash)
	a.peerGroup.DeregisterAgent(a.objHash)
}

func (a *TerminalOpsSyncAgent) sweepLoop() {
	interval := a.params.HousekeepingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			a.housekeep()
		}
	}
}

// housekeep expires stale movements and incomplete ops whose deadlines have
// passed (spec §4.5 "periodic housekeeping").
func (a *TerminalOpsSyncAgent) housekeep() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	for h, byEndpoint := range a.incoming {
		for ep, mv := range byEndpoint {
			if now.After(mv.deadline) {
				delete(byEndpoint, ep)
			}
		}
		if len(byEndpoint) == 0 {
			delete(a.incoming, h)
		}
	}
	for h, byEndpoint := range a.outgoing {
		for ep, mv := range byEndpoint {
			if now.After(mv.deadline) {
				delete(byEndpoint, ep)
			}
		}
		if len(byEndpoint) == 0 {
			delete(a.outgoing, h)
		}
	}
	for root, inc := range a.incomplete {
		if now.After(inc.expiresAt) {
			for h := range inc.missing {
				if set, ok := a.opsForMissing[h]; ok {
					set.Remove(root)
					if len(set) == 0 {
						delete(a.opsForMissing, h)
					}
				}
			}
			delete(a.incomplete, root)
		}
	}
}

//---------------------------------------------------------------------
// Agent / StateAgent / PeerMessageAgent interfaces
//---------------------------------------------------------------------

func (a *TerminalOpsSyncAgent) AgentID() AgentID { return a.objHash }

// HandlePodEvent satisfies the pod's Agent interface. The sync agent has no
// local reaction to pod-level events itself; the gossip agent is the one
// that diffuses agent-state-update and feeds new-peer into publishing.
func (a *TerminalOpsSyncAgent) HandlePodEvent(PodEvent) {}

// CurrentState returns the agent's cached terminal-ops state, for the
// gossip agent to diffuse.
func (a *TerminalOpsSyncAgent) CurrentState() (Hash, HashedObject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateHash, a.state
}

// ReceiveRemoteState is called by the gossip agent (directly, or replaying
// from its cache) when a peer's terminal-ops state for this object arrives.
func (a *TerminalOpsSyncAgent) ReceiveRemoteState(source NodeID, stateHash Hash, state HashedObject) (bool, error) {
	tos, ok := state.(*TerminalOpsState)
	if !ok {
		return false, fmt.Errorf("sync: unexpected state type for %s", a.objHash.Short())
	}
	return a.processRemoteState(source, stateHash, tos)
}

func (a *TerminalOpsSyncAgent) processRemoteState(source NodeID, stateHash Hash, tos *TerminalOpsState) (bool, error) {
	a.mu.Lock()
	current := a.stateHash
	a.mu.Unlock()
	if current == stateHash {
		return false, nil
	}

	var reqs []requestedObject
	for h := range tos.TerminalOps {
		if a.isKnown(h) {
			continue
		}
		reqs = append(reqs, requestedObject{Hash: h})
	}
	if len(reqs) > 0 {
		a.requestObjsFrom(source, reqs, newSecret())
	}
	return true, nil
}

func (a *TerminalOpsSyncAgent) isKnown(h Hash) bool {
	if _, ok := a.store.LoadLiteral(h); ok {
		return true
	}
	a.mu.Lock()
	_, ok := a.incomplete[h]
	a.mu.Unlock()
	return ok
}

func (a *TerminalOpsSyncAgent) classAccepted(className string) bool {
	_, ok := a.acceptedClasses[className]
	return ok
}

// Publish literalizes and saves op against this agent's object, the normal
// path by which application code introduces a new local mutation.
func (a *TerminalOpsSyncAgent) Publish(op *MutationOp) (*Literal, error) {
	lit, err := HashObject(op)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(lit); err != nil {
		return nil, err
	}
	return lit, nil
}

// ReceivePeerMessage dispatches an inbound wire message to its handler.
func (a *TerminalOpsSyncAgent) ReceivePeerMessage(msg InboundMsg) {
	var env envelope
	if err := json.Unmarshal(msg.Content, &env); err != nil {
		a.logger.Warnf("sync: malformed message from %s: %v", msg.Source, err)
		return
	}
	switch env.Type {
	case msgRequestState:
		var body requestStateMsg
		if err := json.Unmarshal(env.Body, &body); err == nil {
			a.handleRequestState(msg.Source, body)
		}
	case msgSendState:
		var body sendStateMsg
		if err := json.Unmarshal(env.Body, &body); err == nil {
			a.handleSendState(msg.Source, body)
		}
	case msgRequestObjs:
		var body requestObjsMsg
		if err := json.Unmarshal(env.Body, &body); err == nil {
			a.handleRequestObjs(msg.Source, body)
		}
	case msgSendObjs:
		var body sendObjsMsg
		if err := json.Unmarshal(env.Body, &body); err == nil {
			a.handleSendObjs(msg.Source, body)
		}
	}
}

//---------------------------------------------------------------------
// request-state / send-state
//---------------------------------------------------------------------

// RequestState asks peer for its view of this object's terminal-ops state.
func (a *TerminalOpsSyncAgent) RequestState(peer NodeID) {
	a.send(peer, msgRequestState, requestStateMsg{TargetObjHash: a.objHash})
}

func (a *TerminalOpsSyncAgent) handleRequestState(source NodeID, body requestStateMsg) {
	if body.TargetObjHash != a.objHash {
		a.logger.Warnf("sync: %v from %s", ErrWrongTarget, source)
		return
	}
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	lit, err := HashObject(state)
	if err != nil {
		a.logger.Warnf("sync: literalize state: %v", err)
		return
	}
	a.send(source, msgSendState, sendStateMsg{TargetObjHash: a.objHash, State: lit})
}

func (a *TerminalOpsSyncAgent) handleSendState(source NodeID, body sendStateMsg) {
	if body.TargetObjHash != a.objHash || body.State == nil {
		return
	}
	if err := body.State.Verify(false); err != nil {
		a.logger.Warnf("sync: %v from %s", err, source)
		return
	}
	obj, err := DecodeClass(body.State.ClassName, body.State.Value, body.State.Dependencies)
	if err != nil {
		a.logger.Warnf("sync: decode remote state: %v", err)
		return
	}
	tos, ok := obj.(*TerminalOpsState)
	if !ok {
		return
	}
	if _, err := a.processRemoteState(source, body.State.Hash, tos); err != nil {
		a.logger.Warnf("sync: process remote state: %v", err)
	}
}

//---------------------------------------------------------------------
// request-objs / send-objs
//---------------------------------------------------------------------

// requestObjsFrom issues a request-objs for reqs to peer "to", subject to
// the backpressure rule of at most two concurrent requests for the same
// hash across distinct peers (spec §4.5).
func (a *TerminalOpsSyncAgent) requestObjsFrom(to NodeID, reqs []requestedObject, secret []byte) {
	a.mu.Lock()
	var accepted []requestedObject
	for _, r := range reqs {
		byEndpoint := a.incoming[r.Hash]
		if byEndpoint == nil {
			byEndpoint = make(map[NodeID]*movement)
			a.incoming[r.Hash] = byEndpoint
		}
		if _, already := byEndpoint[to]; already {
			continue
		}
		if len(byEndpoint) >= 2 {
			continue
		}
		byEndpoint[to] = &movement{
			chain:    r.DependencyChain,
			secret:   secret,
			deadline: time.Now().Add(a.params.ReceiveTimeout),
		}
		accepted = append(accepted, r)
	}
	a.mu.Unlock()
	if len(accepted) == 0 {
		return
	}
	a.send(to, msgRequestObjs, requestObjsMsg{TargetObjHash: a.objHash, RequestedObjects: accepted, Secret: secret})
}

// validateRootOp checks that h is a persisted, accepted mutation op
// targeting this agent's object (spec R1: every dependency chain must
// bottom out at such an op).
func (a *TerminalOpsSyncAgent) validateRootOp(h Hash) error {
	lit, ok := a.store.LoadLiteral(h)
	if !ok {
		return ErrMissingDependency
	}
	target, _, isOp := mutationOpDeps(lit)
	if !isOp || target != a.objHash || !a.classAccepted(lit.ClassName) {
		return ErrUnacceptableOp
	}
	return nil
}

// validateChain walks a claimed dependencyChain and confirms requested is
// genuinely reachable from an accepted op on this agent's object (spec R1).
func (a *TerminalOpsSyncAgent) validateChain(chain []Hash, requested Hash) error {
	if len(chain) == 0 {
		return a.validateRootOp(requested)
	}
	if err := a.validateRootOp(chain[0]); err != nil {
		return err
	}
	cur, ok := a.store.LoadLiteral(chain[0])
	if !ok {
		return ErrMissingDependency
	}
	for i := 1; i < len(chain); i++ {
		if _, ok := cur.DependencyByHash(chain[i]); !ok {
			return ErrUnacceptableOp
		}
		next, ok := a.store.LoadLiteral(chain[i])
		if !ok {
			return ErrMissingDependency
		}
		cur = next
	}
	if _, ok := cur.DependencyByHash(requested); !ok {
		return ErrUnacceptableOp
	}
	return nil
}

func (a *TerminalOpsSyncAgent) handleRequestObjs(source NodeID, body requestObjsMsg) {
	if body.TargetObjHash != a.objHash {
		a.logger.Warnf("sync: %v from %s", ErrWrongTarget, source)
		return
	}
	ctx := literalContext{Literals: map[Hash]*Literal{}}
	var proofs []ownershipProof

	for _, r := range body.RequestedObjects {
		if err := a.validateChain(r.DependencyChain, r.Hash); err != nil {
			a.logger.Warnf("sync: reject request for %s from %s: %v", r.Hash.Short(), source, err)
			continue
		}
		if _, ok := a.store.LoadLiteral(r.Hash); !ok {
			a.mu.Lock()
			byEndpoint := a.outgoing[r.Hash]
			if byEndpoint == nil {
				byEndpoint = make(map[NodeID]*movement)
				a.outgoing[r.Hash] = byEndpoint
			}
			byEndpoint[source] = &movement{
				chain:    r.DependencyChain,
				secret:   body.Secret,
				deadline: time.Now().Add(a.params.SendTimeout),
			}
			a.mu.Unlock()
			continue
		}
		sub, subProofs, err := a.buildContext(r.Hash, body.Secret)
		if err != nil {
			a.logger.Warnf("sync: build context for %s: %v", r.Hash.Short(), err)
			continue
		}
		ctx.RootHashes = append(ctx.RootHashes, r.Hash)
		for h, l := range sub.Literals {
			ctx.Literals[h] = l
		}
		proofs = append(proofs, subProofs...)
	}

	if len(ctx.RootHashes) == 0 {
		return
	}
	a.send(source, msgSendObjs, sendObjsMsg{
		TargetObjHash: a.objHash,
		SentObjects:   ctx,
		OmittedDeps:   proofs,
		Secret:        body.Secret,
	})
}

// buildContext gathers root's subobject-dependency closure, omitting
// reference-type dependencies in favour of an ownership proof keyed on the
// requester-supplied secret (spec §3, §4.5).
func (a *TerminalOpsSyncAgent) buildContext(root Hash, secret []byte) (literalContext, []ownershipProof, error) {
	ctx := literalContext{RootHashes: []Hash{root}, Literals: map[Hash]*Literal{}}
	var proofs []ownershipProof
	visited := NewHashSet()

	var walk func(h Hash) error
	walk = func(h Hash) error {
		if visited.Has(h) {
			return nil
		}
		visited.Add(h)
		lit, ok := a.store.LoadLiteral(h)
		if !ok {
			return nil
		}
		ctx.Literals[h] = lit
		for _, dep := range lit.Dependencies {
			if visited.Has(dep.Hash) {
				continue
			}
			if dep.Type == DependencyTypeReference {
				depLit, ok := a.store.LoadLiteral(dep.Hash)
				if !ok {
					continue
				}
				proof := HashOf(append(append([]byte(nil), depLit.Value...), secret...))
				proofs = append(proofs, ownershipProof{Hash: dep.Hash, OwnershipProof: proof})
				visited.Add(dep.Hash)
				continue
			}
			if err := walk(dep.Hash); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return ctx, nil, err
	}
	return ctx, proofs, nil
}

func (a *TerminalOpsSyncAgent) handleSendObjs(source NodeID, body sendObjsMsg) {
	for h, lit := range body.SentObjects.Literals {
		if lit.Hash != h || lit.Recompute() != lit.Hash {
			a.logger.Warnf("sync: %v from %s", ErrHashMismatch, source)
			return
		}
	}
	for _, root := range body.SentObjects.RootHashes {
		if _, ok := body.SentObjects.Literals[root]; !ok {
			a.logger.Warnf("sync: send-objs missing root literal from %s", source)
			return
		}
	}

	omitted := make(map[Hash]Hash, len(body.OmittedDeps))
	for _, p := range body.OmittedDeps {
		omitted[p.Hash] = p.OwnershipProof
	}

	for _, root := range body.SentObjects.RootHashes {
		a.mu.Lock()
		mv, expected := a.incoming[root][source]
		a.mu.Unlock()
		if !expected {
			a.logger.Warnf("sync: unexpected send-objs root %s from %s", root.Short(), source)
			continue
		}
		if string(mv.secret) != string(body.Secret) {
			a.logger.Warnf("sync: %v for %s from %s", ErrInvalidOwnershipProof, root.Short(), source)
			continue
		}

		ctx := &pendingContext{literals: cloneLiterals(body.SentObjects.Literals)}
		missing := a.resolveMissing(root, ctx, omitted, mv.secret)

		a.mu.Lock()
		delete(a.incoming[root], source)
		if len(a.incoming[root]) == 0 {
			delete(a.incoming, root)
		}
		a.mu.Unlock()

		if len(missing) == 0 {
			a.persistAndPropagate(root, ctx)
			continue
		}
		a.stashIncomplete(source, root, ctx, missing, mv.secret)
		a.requestMissingFollowup(source, missing, mv.secret)
	}
}

// resolveMissing walks root's dependency closure within ctx, resolving any
// reference dependency the sender omitted against our own local copy if its
// ownership proof checks out (spec R2), and reports what's still missing
// together with the dependency chain needed to re-request it.
func (a *TerminalOpsSyncAgent) resolveMissing(root Hash, ctx *pendingContext, omitted map[Hash]Hash, secret []byte) map[Hash][]Hash {
	missing := make(map[Hash][]Hash)
	visited := NewHashSet()
	visited.Add(root)

	var walkDeps func(parent Hash, ancestors []Hash)
	walkDeps = func(parent Hash, ancestors []Hash) {
		lit := ctx.literals[parent]
		if lit == nil {
			return
		}
		for _, dep := range lit.Dependencies {
			if visited.Has(dep.Hash) {
				continue
			}
			visited.Add(dep.Hash)

			depLit, inCtx := ctx.literals[dep.Hash]
			if !inCtx {
				if proof, wasOmitted := omitted[dep.Hash]; wasOmitted {
					if local, ok := a.store.LoadLiteral(dep.Hash); ok {
						want := HashOf(append(append([]byte(nil), local.Value...), secret...))
						if want == proof {
							ctx.literals[dep.Hash] = local
							depLit, inCtx = local, true
						}
					}
				}
			}
			if !inCtx {
				missing[dep.Hash] = append(append([]Hash(nil), ancestors...), parent)
				continue
			}
			_ = depLit
			walkDeps(dep.Hash, append(append([]Hash(nil), ancestors...), parent))
		}
	}
	walkDeps(root, nil)
	return missing
}

func (a *TerminalOpsSyncAgent) stashIncomplete(source NodeID, root Hash, ctx *pendingContext, missing map[Hash][]Hash, secret []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	missSet := make(map[Hash]requestedObject, len(missing))
	for h, chain := range missing {
		missSet[h] = requestedObject{Hash: h, DependencyChain: chain}
		if a.opsForMissing[h] == nil {
			a.opsForMissing[h] = NewHashSet()
		}
		a.opsForMissing[h].Add(root)
	}
	a.incomplete[root] = &IncompleteOp{
		source:    source,
		ctx:       ctx,
		missing:   missSet,
		secret:    secret,
		expiresAt: time.Now().Add(a.params.IncompleteOpTimeout),
	}
}

func (a *TerminalOpsSyncAgent) requestMissingFollowup(source NodeID, missing map[Hash][]Hash, secret []byte) {
	reqs := make([]requestedObject, 0, len(missing))
	for h, chain := range missing {
		reqs = append(reqs, requestedObject{Hash: h, DependencyChain: chain})
	}
	a.requestObjsFrom(source, reqs, secret)
}

// onDependencyArrived folds a newly-persisted literal into every incomplete
// op waiting on it, extending each op's missing set with the arrived
// literal's own unresolved dependencies and re-requesting those, or
// persisting the op outright once nothing is left outstanding.
func (a *TerminalOpsSyncAgent) onDependencyArrived(h Hash) {
	lit, ok := a.store.LoadLiteral(h)
	if !ok {
		return
	}
	a.serveOutgoing(h)

	a.mu.Lock()
	waiters := a.opsForMissing[h]
	delete(a.opsForMissing, h)
	a.mu.Unlock()
	if waiters == nil {
		return
	}

	// Each waiting root is an independent incomplete op; advancing one may
	// issue its own request-objs round trip, so fan them out concurrently
	// instead of serializing on the slowest peer.
	var g errgroup.Group
	for root := range waiters {
		root := root
		g.Go(func() error {
			a.completeIncomplete(root, h, lit)
			return nil
		})
	}
	_ = g.Wait()
}

// completeIncomplete folds the newly-arrived literal lit (named by h) into
// the incomplete op tracked under root, persisting it if nothing is left
// outstanding or re-requesting whatever new dependencies it now needs.
func (a *TerminalOpsSyncAgent) completeIncomplete(root, h Hash, lit *Literal) {
	a.mu.Lock()
	inc, ok := a.incomplete[root]
	if !ok {
		a.mu.Unlock()
		return
	}
	chainToH := inc.missing[h].DependencyChain
	inc.ctx.literals[h] = lit
	delete(inc.missing, h)

	for _, dep := range lit.Dependencies {
		if _, already := inc.ctx.literals[dep.Hash]; already {
			continue
		}
		if _, pending := inc.missing[dep.Hash]; pending {
			continue
		}
		chain := append(append([]Hash(nil), chainToH...), h)
		inc.missing[dep.Hash] = requestedObject{Hash: dep.Hash, DependencyChain: chain}
		if a.opsForMissing[dep.Hash] == nil {
			a.opsForMissing[dep.Hash] = NewHashSet()
		}
		a.opsForMissing[dep.Hash].Add(root)
	}

	done := len(inc.missing) == 0
	var toRequest []requestedObject
	if done {
		delete(a.incomplete, root)
	} else {
		for _, ro := range inc.missing {
			toRequest = append(toRequest, ro)
		}
	}
	source, secret, ctx := inc.source, inc.secret, inc.ctx
	a.mu.Unlock()

	if done {
		a.persistAndPropagate(root, ctx)
	} else if len(toRequest) > 0 {
		a.requestObjsFrom(source, toRequest, secret)
	}
}

// persistAndPropagate saves every literal in ctx (retrying in dependency
// order) and, if root is an accepted op on this agent's object, enforces
// R1 before doing so.
func (a *TerminalOpsSyncAgent) persistAndPropagate(root Hash, ctx *pendingContext) {
	lit, ok := ctx.literals[root]
	if !ok {
		return
	}
	if target, _, isOp := mutationOpDeps(lit); isOp && target == a.objHash {
		if !a.classAccepted(lit.ClassName) {
			a.logger.Warnf("sync: %v: %s", ErrUnacceptableOp, lit.ClassName)
			return
		}
	}
	a.persistAll(ctx)
	a.onDependencyArrived(root)
}

// persistAll saves every literal in ctx, retrying in passes so that an op
// whose prevOps are also in ctx gets a chance to land after them.
func (a *TerminalOpsSyncAgent) persistAll(ctx *pendingContext) {
	pending := make(map[Hash]*Literal, len(ctx.literals))
	for h, l := range ctx.literals {
		pending[h] = l
	}
	for len(pending) > 0 {
		progressed := false
		for h, l := range pending {
			if err := a.store.Save(l); err != nil {
				continue
			}
			delete(pending, h)
			progressed = true
		}
		if !progressed {
			for h := range pending {
				a.logger.Warnf("sync: could not persist %s: unresolved dependency", h.Short())
			}
			return
		}
	}
}

// serveOutgoing sends h to any peer that asked for it before we had it
// locally.
func (a *TerminalOpsSyncAgent) serveOutgoing(h Hash) {
	a.mu.Lock()
	byEndpoint := a.outgoing[h]
	delete(a.outgoing, h)
	a.mu.Unlock()
	if len(byEndpoint) == 0 {
		return
	}
	for to, mv := range byEndpoint {
		sub, proofs, err := a.buildContext(h, mv.secret)
		if err != nil {
			continue
		}
		a.send(to, msgSendObjs, sendObjsMsg{
			TargetObjHash: a.objHash,
			SentObjects:   sub,
			OmittedDeps:   proofs,
			Secret:        mv.secret,
		})
	}
}

// onOpPersisted is the store's watchReferences callback: fires whenever a
// new op targeting this agent's object is persisted, whether by
// local Publish or by this agent's own sync machinery.
func (a *TerminalOpsSyncAgent) onOpPersisted(opHash Hash) {
	terminal, _ := a.store.LoadTerminalOpsForMutable(a.objHash)
	if terminal == nil {
		terminal = NewHashSet()
	}
	newState := &TerminalOpsState{MutableObjHash: a.objHash, TerminalOps: terminal}
	lit, err := HashObject(newState)
	if err != nil {
		a.logger.Warnf("sync: hash new terminal-ops state: %v", err)
		return
	}

	a.mu.Lock()
	changed := a.stateHash != lit.Hash
	a.state = newState
	a.stateHash = lit.Hash
	a.mu.Unlock()

	if changed {
		a.pod.BroadcastEvent(PodEvent{Kind: EventAgentStateUpdate, AgentID: a.objHash, State: newState})
	}
	a.onDependencyArrived(opHash)
}

//---------------------------------------------------------------------
// helpers
//---------------------------------------------------------------------

func cloneLiterals(src map[Hash]*Literal) map[Hash]*Literal {
	out := make(map[Hash]*Literal, len(src))
	for h, l := range src {
		out[h] = l
	}
	return out
}

// newSecret picks a fresh per-request ownership-proof secret.
func newSecret() []byte {
	id := uuid.New()
	return id[:]
}

func (a *TerminalOpsSyncAgent) send(to NodeID, msgType string, body any) {
	data, err := wrap(msgType, body)
	if err != nil {
		a.logger.Warnf("sync: encode %s: %v", msgType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.params.SendTimeout)
	defer cancel()
	if err := a.peerGroup.SendMessage(ctx, to, a.objHash, a.objHash, data); err != nil {
		a.logger.Warnf("sync: send %s to %s: %v", msgType, to, err)
	}
}

var _ Agent = (*TerminalOpsSyncAgent)(nil)
var _ StateAgent = (*TerminalOpsSyncAgent)(nil)
var _ PeerMessageAgent = (*TerminalOpsSyncAgent)(nil)
