package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*discordgo.Session, *discordgo.MessageCreate, []string) {}

func TestRegistryMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(CommandDefinition{Name: "order", Usage: "!order", Handler: noop})
	r.Register(CommandDefinition{Name: "Charge", Usage: "!charge", GMOnly: true, Handler: noop})

	cmd, args, ok := r.Match("  !ORDER add core:torch 3 ")
	require.True(t, ok)
	assert.Equal(t, "order", cmd.Name)
	assert.Equal(t, []string{"!ORDER", "add", "core:torch", "3"}, args)

	cmd, _, ok = r.Match("!charge <@1> 2")
	require.True(t, ok)
	assert.True(t, cmd.GMOnly)

	_, args, ok = r.Match("!unknown thing")
	assert.False(t, ok)
	assert.Equal(t, []string{"!unknown", "thing"}, args)

	_, _, ok = r.Match("order add")
	assert.False(t, ok)
	_, _, ok = r.Match("   ")
	assert.False(t, ok)
}

func TestHelpText(t *testing.T) {
	r := NewRegistry()
	r.Register(CommandDefinition{Name: "wallet", Usage: "!wallet", Description: "Show your purse", Handler: noop})
	r.Register(CommandDefinition{Name: "charge", Usage: "!charge @user <gold>", Description: "Take gold", GMOnly: true, Handler: noop})

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "charge", all[0].Name)

	text := helpText(all)
	assert.Contains(t, text, "- `!charge @user <gold>` - Take gold _(GM)_")
	assert.Contains(t, text, "- `!wallet` - Show your purse")

	detail := commandHelp(CommandDefinition{Name: "buy", Usage: "!buy <pack:item>", Description: "Buy", Examples: []string{"!buy core:torch"}})
	assert.Contains(t, detail, "**!buy** - Buy")
	assert.Contains(t, detail, "!buy core:torch")
}
