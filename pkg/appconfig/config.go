package appconfig

import (
	"fmt"

	"github.com/google/uuid"
)

// StorageConfig configures the SQLite-backed Storage implementation.
type StorageConfig struct {
	// SQLitePath is the filesystem path to the SQLite database file.
	// ":memory:" is not supported: the separate write and read connections
	// would each open their own, unrelated in-memory database.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// EngineConfig configures the overlay engine itself: its public hosting URL
// (advertised in SHIP/SLAP records) and the bootstrap trackers, which are
// always added to the peer set for tm_ship/tm_slap gossip and for
// tm_ship/tm_slap peer sync configurations.
type EngineConfig struct {
	HostingURL   string   `mapstructure:"hosting_url"`
	SHIPTrackers []string `mapstructure:"ship_trackers"`
	SLAPTrackers []string `mapstructure:"slap_trackers"`
	Verbose      bool     `mapstructure:"verbose"`

	// IdentityKeyHex is the hex-encoded identity public key embedded in
	// this node's SHIP/SLAP advertisement outputs. The advertisement
	// transactions are built unsigned.
	IdentityKeyHex string `mapstructure:"identity_key_hex"`
}

// GossipConfig configures the peer fan-out client used to propagate
// admitted transactions to other overlay hosts.
type GossipConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// Config represents the application configuration.
type Config struct {
	AppName          string        `mapstructure:"app_name"`
	Port             int           `mapstructure:"port"`
	Addr             string        `mapstructure:"addr"`
	ServerHeader     string        `mapstructure:"server_header"`
	AdminBearerToken string        `mapstructure:"admin_bearer_token"`
	Storage          StorageConfig `mapstructure:"storage"`
	Engine           EngineConfig  `mapstructure:"engine"`
	Gossip           GossipConfig  `mapstructure:"gossip"`
}

// Defaults returns the default configuration values.
func Defaults() Config {
	return Config{
		AppName:          "Overlay API v0.0.0",
		Port:             3000,
		Addr:             "localhost",
		ServerHeader:     "Overlay API",
		AdminBearerToken: uuid.NewString(),
		Storage: StorageConfig{
			SQLitePath: "overlay.db",
		},
		Engine: EngineConfig{
			HostingURL:     "https://localhost",
			SHIPTrackers:   []string{},
			SLAPTrackers:   []string{},
			Verbose:        false,
			IdentityKeyHex: "0000000000000000000000000000000000000000000000000000000000000000",
		},
		Gossip: GossipConfig{
			RequestTimeoutSeconds: 10,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("admin bearer token: %w", err)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage: sqlite path is required")
	}
	return nil
}

// validate checks if the admin bearer token is set.
func (c *Config) validate() error {
	if c.AdminBearerToken == "" {
		return fmt.Errorf("admin bearer token is required")
	}
	_, err := uuid.Parse(c.AdminBearerToken)
	if err != nil {
		return fmt.Errorf("admin bearer token is not a valid")
	}

	return nil
}
