package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// PushConfiguration controls the notification dispatch core
type PushConfiguration struct {
	Enabled                 bool   `toml:"enabled"`
	MaxTryAttempts          int    `toml:"max_try_attempts"`
	MaxAttemptPeriodMinutes int    `toml:"max_attempt_period_minutes"`
	ReadTimeoutMS           int    `toml:"read_timeout_ms"`
	DefaultConnectTimeoutMS int    `toml:"default_connect_timeout_ms"`
	DefaultMediaType        string `toml:"default_media_type"`
	DeliveryWorkers         int    `toml:"delivery_workers"`
	DeliveryBacklog         int    `toml:"delivery_backlog"`
	SubclassCacheSize       int    `toml:"subclass_cache_size"`

	// ClassHierarchy maps an entity class to its direct subclasses.
	// Subscriptions to a class cover its whole subtree.
	ClassHierarchy map[string][]string `toml:"class_hierarchy"`

	// AbstractClasses names hierarchy members that never occur as flush
	// payload instances. They are expanded through but excluded from results.
	AbstractClasses []string `toml:"abstract_classes"`
}

// StoreConfiguration controls the SQLite-backed stores
type StoreConfiguration struct {
	BusyTimeoutMS int `toml:"busy_timeout_ms"`
}

// AdminConfiguration controls the admin HTTP API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"`
}

// TelemetryConfiguration controls prometheus metrics exposure
type TelemetryConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfiguration controls log output
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// Configuration is the root config structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Push      PushConfiguration      `toml:"push"`
	Store     StoreConfiguration     `toml:"store"`
	Admin     AdminConfiguration     `toml:"admin"`
	Telemetry TelemetryConfiguration `toml:"telemetry"`
	Logging   LoggingConfiguration   `toml:"logging"`
}

var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin API port (overrides config)")
)

var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./pushrelay-data",

	Push: PushConfiguration{
		Enabled:                 true,
		MaxTryAttempts:          10,
		MaxAttemptPeriodMinutes: 20,
		ReadTimeoutMS:           30000,
		DefaultConnectTimeoutMS: 5000,
		DefaultMediaType:        "application/json",
		DeliveryWorkers:         2,
		DeliveryBacklog:         10,
		SubclassCacheSize:       256,
	},

	Store: StoreConfiguration{
		BusyTimeoutMS: 5000,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},

	Telemetry: TelemetryConfiguration{
		Enabled: true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("pushrelay")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Push.MaxTryAttempts < 1 {
		return fmt.Errorf("max_try_attempts must be >= 1")
	}

	if Config.Push.MaxAttemptPeriodMinutes < 1 {
		return fmt.Errorf("max_attempt_period_minutes must be >= 1")
	}

	if Config.Push.ReadTimeoutMS < 1 {
		return fmt.Errorf("read_timeout_ms must be >= 1")
	}

	if Config.Push.DeliveryWorkers < 1 {
		return fmt.Errorf("delivery_workers must be >= 1")
	}

	if Config.Store.BusyTimeoutMS < 1 {
		return fmt.Errorf("busy_timeout_ms must be >= 1")
	}

	return nil
}
