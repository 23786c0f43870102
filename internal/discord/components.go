package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	// Component Custom IDs
	promptConfirmButtonPrefix = "prompt_confirm_"
	promptCancelButtonPrefix  = "prompt_cancel_"
	orderConfirmButtonID      = "order_confirm"
)

// handleMessageComponentInteraction routes component interactions to the appropriate handler
func (b *Bot) handleMessageComponentInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	switch {
	case strings.HasPrefix(customID, promptConfirmButtonPrefix):
		b.handlePromptButton(s, i, strings.TrimPrefix(customID, promptConfirmButtonPrefix), true)
	case strings.HasPrefix(customID, promptCancelButtonPrefix):
		b.handlePromptButton(s, i, strings.TrimPrefix(customID, promptCancelButtonPrefix), false)
	case customID == orderConfirmButtonID:
		b.handleOrderConfirmButton(s, i)
	default:
		b.log.WithField("customId", customID).Warn("Unknown component interaction")
		respondWithError(s, i, "unknown button, please ask the GM")
	}
}

// respondWithError sends an ephemeral error message
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "⚠️ " + message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// respondEphemeral sends a message only the presser sees
func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// confirmButtons builds the Confirm / Cancel row of a prompt
func confirmButtons(promptID, confirmLabel string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    confirmLabel,
					Style:    discordgo.SuccessButton,
					CustomID: promptConfirmButtonPrefix + promptID,
				},
				discordgo.Button{
					Label:    "Cancel",
					Style:    discordgo.SecondaryButton,
					CustomID: promptCancelButtonPrefix + promptID,
				},
			},
		},
	}
}

// orderButtons is attached to order replies so players can confirm in one click
func orderButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Confirm my cart",
					Style:    discordgo.PrimaryButton,
					CustomID: orderConfirmButtonID,
				},
			},
		},
	}
}
