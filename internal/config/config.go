package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"pitrdb/pkg/pitr"
	"pitrdb/pkg/replset"
)

// EnvPrefix prefixes every environment override, e.g. PITRDB_NODE_ADDR.
const EnvPrefix = "PITRDB_"

// Config holds all configuration for a node.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger" envPrefix:"LOGGER_"`
	HTTPServer HTTPServerConfig `yaml:"http-server" envPrefix:"HTTP_"`
	Node       NodeConfig       `yaml:"node" envPrefix:"NODE_"`
	Membership MembershipConfig `yaml:"membership" envPrefix:"MEMBERSHIP_"`
	Recovery   RecoveryConfig   `yaml:"recovery" envPrefix:"RECOVERY_"`
	Oplog      OplogConfig      `yaml:"oplog" envPrefix:"OPLOG_"`
	Auth       AuthConfig       `yaml:"auth"`
}

type LoggerConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

type HTTPServerConfig struct {
	Port            string        `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// NodeConfig describes identity and local storage of the node.
type NodeConfig struct {
	// Addr is the host:port other members reach this node at.
	Addr         string `yaml:"addr" env:"ADDR"`
	DataDir      string `yaml:"data_dir" env:"DATA_DIR"`
	InitialState string `yaml:"initial_state" env:"INITIAL_STATE"`
	// Term is the election term used as GTID primary for local writes.
	Term          uint64 `yaml:"term" env:"TERM"`
	MaxEntryBytes int    `yaml:"max_entry_bytes" env:"MAX_ENTRY_BYTES"`
}

// MembershipConfig selects ZooKeeper membership when ZKServers is set,
// static Peers otherwise.
type MembershipConfig struct {
	ZKServers       []string      `yaml:"zk_servers" env:"ZK_SERVERS" envSeparator:","`
	RootPath        string        `yaml:"root_path" env:"ROOT_PATH"`
	Peers           []string      `yaml:"peers" env:"PEERS" envSeparator:","`
	PublishInterval time.Duration `yaml:"publish_interval" env:"PUBLISH_INTERVAL"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
}

type RecoveryConfig struct {
	SourceBackoff  time.Duration `yaml:"source_backoff" env:"SOURCE_BACKOFF"`
	ConnectBackoff time.Duration `yaml:"connect_backoff" env:"CONNECT_BACKOFF"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	SourceVeto     time.Duration `yaml:"source_veto" env:"SOURCE_VETO"`
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

type OplogConfig struct {
	// SyncInterval is how often the journal is fsynced in the background.
	SyncInterval time.Duration `yaml:"sync_interval" env:"SYNC_INTERVAL"`
	// BigTxnOps is the op count above which served entries carry a ref instead of ops.
	BigTxnOps int `yaml:"big_txn_ops" env:"BIG_TXN_OPS"`
}

// AuthConfig maps bearer tokens to the actions they grant. Empty means open.
type AuthConfig struct {
	Tokens map[string][]string `yaml:"tokens"`
}

// Default returns a baseline development config.
func Default() Config {
	rec := pitr.DefaultConfig()
	return Config{
		Logger:     LoggerConfig{Level: "info"},
		HTTPServer: HTTPServerConfig{Port: "8080", ShutdownTimeout: 5 * time.Second},
		Node: NodeConfig{
			Addr:          "localhost:8080",
			DataDir:       "./data",
			InitialState:  replset.Secondary.String(),
			Term:          1,
			MaxEntryBytes: 1 << 20,
		},
		Membership: MembershipConfig{
			RootPath:        "/pitrdb",
			PublishInterval: time.Second,
			RefreshInterval: 5 * time.Second,
		},
		Recovery: RecoveryConfig{
			SourceBackoff:  rec.SourceBackoff,
			ConnectBackoff: rec.ConnectBackoff,
			RetryBackoff:   rec.RetryBackoff,
			SourceVeto:     rec.SourceVeto,
			DialTimeout:    3 * time.Second,
		},
		Oplog: OplogConfig{
			SyncInterval: 100 * time.Millisecond,
			BigTxnOps:    64,
		},
	}
}

// Load reads the YAML file at path over Default() and applies PITRDB_*
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Node.Addr == "" {
		return errors.New("node.addr is required")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir is required")
	}
	if _, err := replset.ParseMemberState(c.Node.InitialState); err != nil {
		return fmt.Errorf("node.initial_state: %w", err)
	}
	if c.Oplog.BigTxnOps < 0 {
		return errors.New("oplog.big_txn_ops must not be negative")
	}
	return nil
}

// PITR returns the control loop settings.
func (c Config) PITR() pitr.Config {
	return pitr.Config{
		SourceBackoff:  c.Recovery.SourceBackoff,
		ConnectBackoff: c.Recovery.ConnectBackoff,
		RetryBackoff:   c.Recovery.RetryBackoff,
		SourceVeto:     c.Recovery.SourceVeto,
	}
}
