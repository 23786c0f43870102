package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	DiscordBot DiscordBotConfig
	PostgreSQL PostgreSQLConfig
	Shop       ShopConfig
	Audit      AuditConfig
	Server     ServerConfig
	Log        LogConfig
}

// DiscordBotConfig holds Discord bot configuration
type DiscordBotConfig struct {
	Token     string
	ChannelID string
	GMUserIDs []string
	GMRoleID  string
}

// PostgreSQLConfig holds database configuration
type PostgreSQLConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	Schema       string
	PoolMaxConns int
}

// ShopConfig selects the role of this process
type ShopConfig struct {
	Role          string
	ClientID      string
	Topic         string
	PartyActorID  string
	RemoteTimeout time.Duration
	PromptTimeout time.Duration
}

// AuditConfig holds the settlement journal location
type AuditConfig struct {
	Dir string
}

// ServerConfig holds HTTP server configuration. OverlayURL is the socket
// address players are sent by !overlay.
type ServerConfig struct {
	Port       string
	OverlayURL string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Initialize sets up viper with defaults and reads the config file. A
// missing file is fine; every key can also come from GSTORE_* variables.
func Initialize(configPath string) error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
	}
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("GSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config file")
		}
		log.Warn("No config file found, using defaults and environment")
		return nil
	}

	log.WithField("file", viper.ConfigFileUsed()).Info("Configuration loaded successfully")
	return nil
}

// SetDefaults registers every default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PostgreSQL.Host", "localhost")
	v.SetDefault("PostgreSQL.Port", 5432)
	v.SetDefault("PostgreSQL.User", "postgres")
	v.SetDefault("PostgreSQL.DBName", "general-store")
	v.SetDefault("PostgreSQL.Schema", "public")
	v.SetDefault("PostgreSQL.PoolMaxConns", 10)

	v.SetDefault("Shop.Role", "gm")
	v.SetDefault("Shop.ClientID", "gm")
	v.SetDefault("Shop.Topic", "general_store")
	v.SetDefault("Shop.RemoteTimeout", 10*time.Second)
	v.SetDefault("Shop.PromptTimeout", 2*time.Minute)

	v.SetDefault("Audit.Dir", "audit")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Server.OverlayURL", "ws://localhost:8080/ws")
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "text")
}

// Load unmarshals and validates the configuration read by Initialize
func Load() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.Shop.Role = strings.ToLower(strings.TrimSpace(cfg.Shop.Role))
	if cfg.Shop.Role != "gm" && cfg.Shop.Role != "player" {
		return nil, errors.Errorf("Shop.Role must be gm or player, got %q", cfg.Shop.Role)
	}
	if cfg.Shop.ClientID == "" {
		return nil, errors.New("Shop.ClientID is required")
	}
	if cfg.PostgreSQL.Host == "" || cfg.PostgreSQL.DBName == "" {
		return nil, errors.New("database configuration is incomplete")
	}
	return &cfg, nil
}

// Validate checks what the serve command needs on top of Load
func (c *Config) Validate() error {
	if c.DiscordBot.Token == "" {
		return errors.New("discord bot token is required")
	}
	if c.DiscordBot.ChannelID == "" {
		return errors.New("DiscordBot.ChannelID is required")
	}
	return nil
}

// SetupLogging applies the Log section to the standard logger
func SetupLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(err, "invalid Log.Level")
	}
	log.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown Log.Format %q", c.Format)
	}
	return nil
}
