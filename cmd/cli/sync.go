// cmd/cli/sync.go – op-graph sync CLI
// -----------------------------------------------------------------------------
// Provides operational control over a single mutable object's
// TerminalOpsSyncAgent, wired into the peer group started by `network`. Unlike
// a daemon-facing RPC client, these commands operate directly against the
// in-process core since meshcore runs embedded rather than behind a socket.
//
// Top-level commands (declared first):
//   • start     – register a sync agent for an object hash against the
//                 running peer group (idempotent per object)
//   • stop      – deregister it
//   • status    – show its current frontier state hash
//   • request   – ask a peer to send its current frontier for the object
// Accepted op classes are set once by `start --class`; no command changes
// them for an agent that is already running.
// -----------------------------------------------------------------------------

package cli

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"meshcore/core"
)

// -----------------------------------------------------------------------------
// Globals
// -----------------------------------------------------------------------------

var (
	syncMu     sync.Mutex
	syncAgents = map[core.Hash]*core.TerminalOpsSyncAgent{}
	gossip     *core.StateGossipAgent
)

func gossipAgent() (*core.StateGossipAgent, error) {
	netMu.RLock()
	pod, group := netPod, netGroup
	netMu.RUnlock()
	if pod == nil || group == nil {
		return nil, errors.New("network not running; run `network start` first")
	}
	syncMu.Lock()
	defer syncMu.Unlock()
	if gossip == nil {
		gossip = core.NewStateGossipAgent(pod, group, storageLG, core.DefaultGossipParams())
	}
	return gossip, nil
}

// -----------------------------------------------------------------------------
// Controllers
// -----------------------------------------------------------------------------

func syncStart(cmd *cobra.Command, args []string) error {
	objHash, err := core.ParseHash(args[0])
	if err != nil {
		return err
	}
	classes, _ := cmd.Flags().GetStringSlice("class")

	netMu.RLock()
	pod, group := netPod, netGroup
	netMu.RUnlock()
	if pod == nil || group == nil {
		return errors.New("network not running; run `network start` first")
	}
	if store == nil {
		return errors.New("store not initialised; run a `store` command first")
	}

	g, err := gossipAgent()
	if err != nil {
		return err
	}

	syncMu.Lock()
	defer syncMu.Unlock()
	if _, exists := syncAgents[objHash]; exists {
		fmt.Fprintln(cmd.OutOrStdout(), "already syncing")
		return nil
	}
	agent := core.NewTerminalOpsSyncAgent(objHash, classes, store, pod, group, storageLG, core.DefaultSyncParams())
	agent.Start()
	g.Track(agent)
	syncAgents[objHash] = agent
	fmt.Fprintf(cmd.OutOrStdout(), "syncing %s\n", objHash.Short())
	return nil
}

func syncStop(cmd *cobra.Command, args []string) error {
	objHash, err := core.ParseHash(args[0])
	if err != nil {
		return err
	}
	syncMu.Lock()
	agent, ok := syncAgents[objHash]
	delete(syncAgents, objHash)
	syncMu.Unlock()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "not syncing")
		return nil
	}
	agent.Shutdown()
	fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

func syncStatus(cmd *cobra.Command, args []string) error {
	objHash, err := core.ParseHash(args[0])
	if err != nil {
		return err
	}
	syncMu.Lock()
	agent, ok := syncAgents[objHash]
	syncMu.Unlock()
	if !ok {
		return fmt.Errorf("not syncing %s", objHash.Short())
	}
	stateHash, _ := agent.CurrentState()
	fmt.Fprintf(cmd.OutOrStdout(), "object=%s frontier=%s\n", objHash.Short(), stateHash.Short())
	return nil
}

func syncRequest(cmd *cobra.Command, args []string) error {
	objHash, err := core.ParseHash(args[0])
	if err != nil {
		return err
	}
	peer, _ := cmd.Flags().GetString("peer")
	if peer == "" {
		return errors.New("--peer is required")
	}
	syncMu.Lock()
	agent, ok := syncAgents[objHash]
	syncMu.Unlock()
	if !ok {
		return fmt.Errorf("not syncing %s", objHash.Short())
	}
	agent.RequestState(core.NodeID(peer))
	fmt.Fprintln(cmd.OutOrStdout(), "requested")
	return nil
}

// -----------------------------------------------------------------------------
// Cobra tree
// -----------------------------------------------------------------------------

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Op-graph synchronization control",
	Aliases: []string{"synchronization"},
}

var syncStartCmd = &cobra.Command{
	Use:   "start <object-hash>",
	Short: "Start syncing the terminal ops of a mutable object",
	Args:  cobra.ExactArgs(1),
	RunE:  syncStart,
}

var syncStopCmd = &cobra.Command{
	Use:   "stop <object-hash>",
	Short: "Stop syncing a mutable object",
	Args:  cobra.ExactArgs(1),
	RunE:  syncStop,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <object-hash>",
	Short: "Show the local frontier hash for a mutable object",
	Args:  cobra.ExactArgs(1),
	RunE:  syncStatus,
}

var syncRequestCmd = &cobra.Command{
	Use:   "request <object-hash> --peer <node-id>",
	Short: "Ask a peer for its current frontier of a mutable object",
	Args:  cobra.ExactArgs(1),
	RunE:  syncRequest,
}

func init() {
	syncStartCmd.Flags().StringSlice("class", nil, "Accepted mutation op class names")
	syncRequestCmd.Flags().String("peer", "", "Target peer node ID [required]")

	syncCmd.AddCommand(syncStartCmd)
	syncCmd.AddCommand(syncStopCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRequestCmd)
}

// NewSyncCommand returns the root Cobra command for sync.
func NewSyncCommand() *cobra.Command { return syncCmd }

// RegisterSync adds the sync commands to the root CLI.
func RegisterSync(root *cobra.Command) { root.AddCommand(syncCmd) }
