package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/shop"
)

// --- Button Handlers ---

// handlePromptButton answers an open prompt and removes its buttons
func (b *Bot) handlePromptButton(s *discordgo.Session, i *discordgo.InteractionCreate, promptID string, confirmed bool) {
	user := interactionUser(i)
	if user == nil {
		respondWithError(s, i, "could not tell who pressed the button")
		return
	}
	if err := b.prompts.Resolve(promptID, user.ID, confirmed); err != nil {
		respondWithError(s, i, err.Error())
		return
	}

	content := i.Message.Content
	if confirmed {
		content += "\n✅ Confirmed"
	} else {
		content += "\n❌ Cancelled"
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.log.WithError(err).WithField("prompt", promptID).Warn("Could not update prompt message")
	}
}

// handleOrderConfirmButton confirms the presser's cart
func (b *Bot) handleOrderConfirmButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		respondWithError(s, i, "could not tell who pressed the button")
		return
	}
	caller := shop.Caller{
		ParticipantRef: models.ParticipantRef{UserID: user.ID, Name: displayName(user, i.Member)},
		GM:             b.isGM(user.ID, i.Member),
	}
	if _, err := b.shop.ConfirmOrder(context.Background(), caller); err != nil {
		respondWithError(s, i, b.userMessage(err, log.Fields{"user": user.ID, "button": orderConfirmButtonID}))
		return
	}
	respondEphemeral(s, i, "✅ Your cart is confirmed.")
}
