package cli

// cmd/cli/storage.go — CLI wrapper for the core literal store.
// ----------------------------------------------------------------------------
// Layout
//   1. Globals & middleware (env-driven wiring of logger and disk store).
//   2. Controllers – one per CLI sub-command, thin and validated.
//   3. CLI definitions – commands + flags.
//   4. Consolidated route export (BOTTOM), ready for import in root CLI.
// ----------------------------------------------------------------------------

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"meshcore/core"
)

// ---------------------------------------------------------------------------
// Globals & middleware
// ---------------------------------------------------------------------------

var (
	store        core.Store
	storageLG    = logrus.New()
	storageFlags struct {
		dataDir      string
		cacheEntries int
	}
)

func initStorageMiddleware(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	resolveStringFlag(cmd, "data-dir", &storageFlags.dataDir, os.Getenv("MESH_DATA_DIR"))
	resolveIntFlag(cmd, "cacheEntries", &storageFlags.cacheEntries, envInt("MESH_CACHE_ENTRIES", 10_000))

	if storageFlags.dataDir == "" {
		storageFlags.dataDir = "./data/literals"
	}

	s, err := core.NewDiskStore(storageFlags.dataDir, storageFlags.cacheEntries, storageLG, nil)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	store = s
}

// ---------------------------------------------------------------------------
// Controller helpers
// ---------------------------------------------------------------------------

func storageBail(err error) {
	if err != nil {
		log.Fatalf("error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Controllers – literal put/get
// ---------------------------------------------------------------------------

func putHandler(cmd *cobra.Command, args []string) {
	class, _ := cmd.Flags().GetString("class")
	file, _ := cmd.Flags().GetString("file")

	if class == "" || file == "" {
		_ = cmd.Usage()
		storageBail(errors.New("--class and --file are required"))
	}

	raw, err := os.ReadFile(file)
	storageBail(err)

	var value any
	storageBail(json.Unmarshal(raw, &value))

	lit, err := core.Literalize(class, value, nil)
	storageBail(err)
	storageBail(store.Save(lit))
	fmt.Printf("saved %s (%s)\n", lit.Hash, lit.ClassName)
}

func getHandler(cmd *cobra.Command, args []string) {
	hashStr, _ := cmd.Flags().GetString("hash")
	if hashStr == "" {
		_ = cmd.Usage()
		storageBail(errors.New("--hash is required"))
	}
	h, err := core.ParseHash(hashStr)
	storageBail(err)

	lit, ok := store.LoadLiteral(h)
	if !ok {
		storageBail(fmt.Errorf("literal %s not found", h.Short()))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(lit)
}

func terminalOpsHandler(cmd *cobra.Command, args []string) {
	hashStr, _ := cmd.Flags().GetString("object")
	if hashStr == "" {
		_ = cmd.Usage()
		storageBail(errors.New("--object is required"))
	}
	h, err := core.ParseHash(hashStr)
	storageBail(err)

	ops, ok := store.LoadTerminalOpsForMutable(h)
	if !ok {
		fmt.Println("no terminal ops recorded")
		return
	}
	for _, opHash := range ops.SortedSlice() {
		fmt.Println(opHash)
	}
}

// ---------------------------------------------------------------------------
// CLI definitions
// ---------------------------------------------------------------------------

var storageCmd = &cobra.Command{
	Use:              "store",
	Short:            "Content-addressed literal store operations",
	PersistentPreRun: initStorageMiddleware,
}

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Literalize and persist a JSON value",
	Run:   putHandler,
}

var storageGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Retrieve a literal by hash",
	Run:   getHandler,
}

var terminalOpsCmd = &cobra.Command{
	Use:   "terminal-ops",
	Short: "List the terminal op hashes known for a mutable object",
	Run:   terminalOpsHandler,
}

func init() {
	storageCmd.PersistentFlags().String("data-dir", "", "Path to literal store directory (MESH_DATA_DIR)")
	storageCmd.PersistentFlags().Int("cacheEntries", 0, "Max in-memory cache entries (MESH_CACHE_ENTRIES, else 10000)")

	putCmd.Flags().String("class", "", "Registered class name [required]")
	putCmd.Flags().String("file", "", "Path to JSON-encoded value [required]")

	storageGetCmd.Flags().String("hash", "", "Literal hash to fetch [required]")

	terminalOpsCmd.Flags().String("object", "", "Mutable object hash [required]")

	storageCmd.AddCommand(putCmd)
	storageCmd.AddCommand(storageGetCmd)
	storageCmd.AddCommand(terminalOpsCmd)
}

// ---------------------------------------------------------------------------
// Helpers – env handling
// ---------------------------------------------------------------------------

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func resolveStringFlag(cmd *cobra.Command, name string, target *string, fallback string) {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		*target = v
	} else if fallback != "" {
		*target = fallback
	}
}

func resolveIntFlag(cmd *cobra.Command, name string, target *int, fallback int) {
	if v, _ := cmd.Flags().GetInt(name); v != 0 {
		*target = v
	} else {
		*target = fallback
	}
}

// ---------------------------------------------------------------------------
// Consolidated route export (BOTTOM) — importable by root CLI.
// ---------------------------------------------------------------------------

// StorageRoute represents the entry-point command (root: "store").
var StorageRoute = storageCmd
