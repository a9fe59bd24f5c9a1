package config

// Package config provides a reusable loader for meshcore configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"meshcore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a meshcore node. It mirrors the
// structure of the YAML files under config/.
type Config struct {
	Network struct {
		PeerGroupID    string   `mapstructure:"peer_group_id" json:"peer_group_id"`
		Topic          string   `mapstructure:"topic" json:"topic"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Gossip struct {
		PeerGossipFraction   float64 `mapstructure:"peer_gossip_fraction" json:"peer_gossip_fraction"`
		PeerGossipProb       float64 `mapstructure:"peer_gossip_prob" json:"peer_gossip_prob"`
		MinGossipPeers       int     `mapstructure:"min_gossip_peers" json:"min_gossip_peers"`
		MaxCachedPrevStates  int     `mapstructure:"max_cached_prev_states" json:"max_cached_prev_states"`
		NewStateErrorRetries int     `mapstructure:"new_state_error_retries" json:"new_state_error_retries"`
		NewStateErrorDelayMS int     `mapstructure:"new_state_error_delay_ms" json:"new_state_error_delay_ms"`
		MaxGossipDelayMS     int     `mapstructure:"max_gossip_delay_ms" json:"max_gossip_delay_ms"`
	} `mapstructure:"gossip" json:"gossip"`

	SyncAgent struct {
		SendTimeoutSec          int `mapstructure:"send_timeout_sec" json:"send_timeout_sec"`
		ReceiveTimeoutSec       int `mapstructure:"receive_timeout_sec" json:"receive_timeout_sec"`
		IncompleteOpTimeoutSec  int `mapstructure:"incomplete_op_timeout_sec" json:"incomplete_op_timeout_sec"`
		HousekeepingIntervalSec int `mapstructure:"housekeeping_interval_sec" json:"housekeeping_interval_sec"`
	} `mapstructure:"sync_agent" json:"sync_agent"`

	Storage struct {
		DataDir      string `mapstructure:"data_dir" json:"data_dir"`
		CacheEntries int    `mapstructure:"cache_entries" json:"cache_entries"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // consults process environment variables; no .env file is read here

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESH_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MESH_ENV", ""))
}
