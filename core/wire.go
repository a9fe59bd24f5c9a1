package core

// Wire message shapes for the two agent protocols (spec §6). These are the
// JSON payloads carried as InboundMsg.Content; each agent's ReceivePeerMessage
// switches on an envelope's Type field before unmarshalling the rest.

import "encoding/json"

// envelope is the outermost wire shape every message is wrapped in so a
// receiving agent can dispatch on Type before decoding Body.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func wrap(msgType string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msgType, Body: raw})
}

//---------------------------------------------------------------------
// State gossip agent wire messages (spec §4.4)
//---------------------------------------------------------------------

const (
	msgSendFullState      = "send-full-state"
	msgSendStateObject    = "send-state-object"
	msgRequestFullState   = "request-full-state"
	msgRequestStateObject = "request-state-object"
)

type agentHashPair struct {
	AgentID AgentID `json:"agentId"`
	Hash    Hash    `json:"hash"`
}

type sendFullStateMsg struct {
	Entries []agentHashPair `json:"entries"`
}

type sendStateObjectMsg struct {
	AgentID   AgentID  `json:"agentId"`
	State     *Literal `json:"state"`
	Timestamp int64    `json:"timestamp"`
}

type requestFullStateMsg struct{}

type requestStateObjectMsg struct {
	AgentID AgentID `json:"agentId"`
}

//---------------------------------------------------------------------
// Terminal-ops sync agent wire messages (spec §4.5, §6)
//---------------------------------------------------------------------

const (
	msgRequestState = "request-state"
	msgSendState    = "send-state"
	msgRequestObjs  = "request-objs"
	msgSendObjs     = "send-objs"
)

type requestStateMsg struct {
	TargetObjHash Hash `json:"targetObjHash"`
}

type sendStateMsg struct {
	TargetObjHash Hash     `json:"targetObjHash"`
	State         *Literal `json:"state"`
}

// requestedObject names a single hash being requested, together with the
// chain of hashes from the target op down to it that proves it is
// reachable from an accepted op on objHash (spec R1).
type requestedObject struct {
	Hash           Hash   `json:"hash"`
	DependencyChain []Hash `json:"dependencyChain"`
}

type requestObjsMsg struct {
	TargetObjHash    Hash              `json:"targetObjHash"`
	RequestedObjects []requestedObject `json:"requestedObjects"`
	Secret           []byte            `json:"ownershipProofSecret"`
}

// ownershipProof proves the sender possesses an omitted dependency without
// transmitting it (spec §3 "Ownership proof").
type ownershipProof struct {
	Hash           Hash `json:"hash"`
	OwnershipProof Hash `json:"ownershipProofHash"`
}

// literalContext is the wire form of a Context: a set of root hashes and
// the literals reachable from them that were not omitted.
type literalContext struct {
	RootHashes []Hash             `json:"rootHashes"`
	Literals   map[Hash]*Literal  `json:"literals"`
}

type sendObjsMsg struct {
	TargetObjHash Hash           `json:"targetObjHash"`
	SentObjects   literalContext `json:"sentObjects"`
	OmittedDeps   []ownershipProof `json:"omittedDeps"`
	Secret        []byte         `json:"ownershipProofSecret,omitempty"`
}
