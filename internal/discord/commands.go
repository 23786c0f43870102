package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// registerCommands registers every chat command with the bot's registry
func (b *Bot) registerCommands() {
	b.registry.Register(CommandDefinition{
		Name:        "shop",
		Description: "Browse the catalog within the GM's filters",
		Usage:       "!shop [search text]",
		Examples:    []string{"!shop", "!shop torch"},
		Handler:     b.handleShopCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "buy",
		Description: "Buy an item for your character right away",
		Usage:       "!buy <pack:item> [quantity]",
		Examples:    []string{"!buy core:torch 5"},
		Handler:     b.handleBuyCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "order",
		Description: "Work with the shared bulk order (open, close and checkout are for the GM)",
		Usage:       "!order [show|add <pack:item> [qty]|remove <pack:item>|confirm|open|close|checkout]",
		Examples:    []string{"!order add core:rope 2", "!order confirm", "!order checkout"},
		Handler:     b.handleOrderCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "wish",
		Description: "Claim items on the party wishlist or move them into the order",
		Usage:       "!wish [show|add <pack:item> [qty]|remove <pack:item> [qty]|move <pack:item> [qty]]",
		Examples:    []string{"!wish add core:sword", "!wish move core:sword"},
		Handler:     b.handleWishCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "wallet",
		Description: "Show your character's purse",
		Usage:       "!wallet",
		Handler:     b.handleWalletCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "charge",
		Description: "Take gold from a player's character",
		Usage:       "!charge @user <gold>",
		Examples:    []string{"!charge @Mira 1.5", "!charge @Mira 3 sp"},
		GMOnly:      true,
		Handler:     b.handleChargeCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "filters",
		Description: "Show or change the catalog filters",
		Usage:       "!filters [show|clear|set level 1-5 rarity common,uncommon traits magical]",
		Examples:    []string{"!filters", "!filters set level 0-3", "!filters clear"},
		Handler:     b.handleFiltersCommand,
	})
	b.registry.Register(CommandDefinition{
		Name:        "receipt",
		Description: "Look up a settlement by id or by its QR receipt image",
		Usage:       "!receipt <settlement id> | attach the receipt image",
		Handler:     b.handleReceiptCommand,
	})
	if b.cfg.Overlay != nil {
		b.registry.Register(CommandDefinition{
			Name:        "overlay",
			Description: "Get a private link that lets a browser overlay act as you",
			Usage:       "!overlay",
			Handler:     b.handleOverlayCommand,
		})
	}
	b.registry.Register(CommandDefinition{
		Name:        "help",
		Description: "Show help information about available commands",
		Usage:       "!help [command]",
		Examples:    []string{"!help", "!help order"},
		Handler:     b.handleHelpCommand,
	})
}

// handleHelpCommand handles the !help command
func (b *Bot) handleHelpCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) > 1 {
		cmd, ok := b.registry.Get(strings.TrimPrefix(args[1], "!"))
		if !ok {
			SendErrorMessage(s, m.ChannelID, fmt.Sprintf("there is no command `%s`", args[1]))
			return
		}
		s.ChannelMessageSend(m.ChannelID, commandHelp(cmd))
		return
	}
	s.ChannelMessageSend(m.ChannelID, helpText(b.registry.All()))
}

// helpText lists every command on one line each
func helpText(cmds []CommandDefinition) string {
	var sb strings.Builder
	sb.WriteString("**Shop commands:**\n")
	for _, cmd := range cmds {
		gm := ""
		if cmd.GMOnly {
			gm = " _(GM)_"
		}
		fmt.Fprintf(&sb, "- `%s` - %s%s\n", cmd.Usage, cmd.Description, gm)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func commandHelp(cmd CommandDefinition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**!%s** - %s\nUsage: `%s`", cmd.Name, cmd.Description, cmd.Usage)
	if len(cmd.Examples) > 0 {
		sb.WriteString("\n**Examples:**\n```\n")
		sb.WriteString(strings.Join(cmd.Examples, "\n"))
		sb.WriteString("\n```")
	}
	return sb.String()
}
