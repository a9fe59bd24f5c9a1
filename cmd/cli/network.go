package cli

// -----------------------------------------------------------------------------
// network.go – mesh peer-group CLI (collision-free)
// -----------------------------------------------------------------------------
// Commands after RegisterNetwork(root):
//   network start      – boot the local libp2p peer group
//   network stop       – shutdown
//   network peers      – list peers
// -----------------------------------------------------------------------------

import (
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meshcore/core"
)

// -----------------------------------------------------------------------------
// Globals & once-init
// -----------------------------------------------------------------------------

var (
	netGroup     *core.P2PPeerGroup
	netPod       *core.AgentPod
	netMu        sync.RWMutex
	netStartTime time.Time
)

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func netInit(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	already := netGroup != nil
	netMu.RUnlock()
	if already {
		return nil
	}
	_ = godotenv.Load()

	lv, err := logrus.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		lv = logrus.InfoLevel
	}
	logrus.SetLevel(lv)

	listenAddr := viper.GetString("network.listen_addr")
	if listenAddr == "" {
		listenAddr = "/ip4/0.0.0.0/tcp/0"
	}
	groupID := viper.GetString("network.peer_group_id")
	topic := viper.GetString("network.topic")
	maxPeers := viper.GetInt("network.max_peers")

	pod := core.NewAgentPod()
	g, err := core.NewP2PPeerGroup(cmd.Context(), listenAddr, groupID, topic, maxPeers, pod, logrus.StandardLogger())
	if err != nil {
		return err
	}
	netMu.Lock()
	netPod = pod
	netGroup = g
	netMu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// Controllers
// -----------------------------------------------------------------------------

func netStart(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	g := netGroup
	netMu.RUnlock()
	if g == nil {
		return fmt.Errorf("not initialised")
	}
	netStartTime = time.Now()
	fmt.Fprintf(cmd.OutOrStdout(), "network started as %s (%d peers)\n", g.LocalEndpoint(), len(g.Peers()))
	return nil
}

func netStop(cmd *cobra.Command, _ []string) error {
	netMu.Lock()
	g := netGroup
	netGroup = nil
	netPod = nil
	netMu.Unlock()
	if g == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not running")
		return nil
	}
	if err := g.Close(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

func netPeers(cmd *cobra.Command, _ []string) error {
	netMu.RLock()
	g := netGroup
	netMu.RUnlock()
	if g == nil {
		return fmt.Errorf("not running")
	}
	for _, p := range g.Peers() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Addr)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Cobra tree (all net-prefixed vars)
// -----------------------------------------------------------------------------

var netRootCmd = &cobra.Command{Use: "network", Short: "mesh peer-group networking", PersistentPreRunE: netInit}

var netStartCmd = &cobra.Command{Use: "start", Short: "Start the peer group", Args: cobra.NoArgs, RunE: netStart}
var netStopCmd = &cobra.Command{Use: "stop", Short: "Stop the peer group", Args: cobra.NoArgs, RunE: netStop}
var netPeersCmd = &cobra.Command{Use: "peers", Short: "List peers", Args: cobra.NoArgs, RunE: netPeers}

func init() { netRootCmd.AddCommand(netStartCmd, netStopCmd, netPeersCmd) }

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// NetworkCmd exposes peer-group networking commands.
var NetworkCmd = netRootCmd

// RegisterNetwork adds the networking commands to the root CLI.
func RegisterNetwork(root *cobra.Command) { root.AddCommand(NetworkCmd) }
