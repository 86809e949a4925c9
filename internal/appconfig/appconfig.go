// Package appconfig loads node launch parameters the way the reference
// stack's own config package does: Viper-backed, reading an optional .env
// file and then environment variables under a fixed prefix into a typed
// struct.
package appconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// NodeConfig holds the launch parameters for a single consensus node (spec
// §6.4): SERVER_ID, GRPC_PORT, PEER_ADDRESSES, DB_PATH.
type NodeConfig struct {
	ServerID      string `mapstructure:"server_id"`
	GRPCPort      int    `mapstructure:"grpc_port"`
	PeerAddresses string `mapstructure:"peer_addresses"`
	DBPath        string `mapstructure:"db_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Peers splits PeerAddresses on commas, dropping blanks.
func (c NodeConfig) Peers() []string {
	if strings.TrimSpace(c.PeerAddresses) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.PeerAddresses, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load populates a NodeConfig from .env (optional) and DOCRAFT_-prefixed
// environment variables.
func Load(prefix string, target *NodeConfig) error {
	target.GRPCPort = 50051
	target.LogLevel = "INFO"
	target.LogFormat = "json"

	v := viper.New()
	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Optional file; a parse error in it is not fatal, Unmarshal
			// below will surface anything that matters.
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.ToLower(strings.TrimPrefix(key, prefixUpper))
		propKey = strings.TrimPrefix(propKey, "_")
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("appconfig: unmarshal: %w", err)
	}

	if target.ServerID == "" {
		return fmt.Errorf("appconfig: %sSERVER_ID is required", prefixUpper)
	}
	if target.DBPath == "" {
		return fmt.Errorf("appconfig: %sDB_PATH is required", prefixUpper)
	}

	return nil
}
