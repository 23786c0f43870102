package config

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(readYAML(t, "DiscordBot:\n  Token: abc\n"))
	require.NoError(t, err)

	assert.Equal(t, "gm", cfg.Shop.Role)
	assert.Equal(t, "general_store", cfg.Shop.Topic)
	assert.Equal(t, 10*time.Second, cfg.Shop.RemoteTimeout)
	assert.Equal(t, 5432, cfg.PostgreSQL.Port)
	assert.Equal(t, "audit", cfg.Audit.Dir)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Server.OverlayURL)
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := load(readYAML(t, `
DiscordBot:
  Token: abc
  ChannelID: "123"
  GMUserIDs: ["42", "43"]
Shop:
  Role: Player
  ClientID: table-2
  RemoteTimeout: 3s
`))
	require.NoError(t, err)
	assert.Equal(t, "player", cfg.Shop.Role)
	assert.Equal(t, "table-2", cfg.Shop.ClientID)
	assert.Equal(t, 3*time.Second, cfg.Shop.RemoteTimeout)
	assert.Equal(t, []string{"42", "43"}, cfg.DiscordBot.GMUserIDs)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Rejects(t *testing.T) {
	_, err := load(readYAML(t, "Shop:\n  Role: dm\n"))
	assert.Error(t, err)

	_, err = load(readYAML(t, "PostgreSQL:\n  Host: \"\"\n"))
	assert.Error(t, err)

	cfg, err := load(readYAML(t, "Shop:\n  Role: gm\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	require.NoError(t, SetupLogging(LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.Error(t, SetupLogging(LogConfig{Level: "loud"}))
	assert.Error(t, SetupLogging(LogConfig{Level: "info", Format: "xml"}))
	log.SetFormatter(&log.TextFormatter{})
}
