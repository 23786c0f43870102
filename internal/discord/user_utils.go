package discord

import (
	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/shop"
)

// displayName prefers the guild nickname, then the global name
func displayName(user *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return "User"
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	if user.Username != "" {
		return user.Username
	}
	return "User"
}

// isGM reports whether the user is listed as a GM or holds the GM role
func (b *Bot) isGM(userID string, member *discordgo.Member) bool {
	for _, id := range b.cfg.GMUserIDs {
		if id == userID {
			return true
		}
	}
	if member != nil && b.cfg.GMRoleID != "" {
		for _, role := range member.Roles {
			if role == b.cfg.GMRoleID {
				return true
			}
		}
	}
	return false
}

// callerOf identifies the author of a message
func (b *Bot) callerOf(m *discordgo.MessageCreate) shop.Caller {
	return shop.Caller{
		ParticipantRef: models.ParticipantRef{
			UserID: m.Author.ID,
			Name:   displayName(m.Author, m.Member),
			Avatar: m.Author.AvatarURL(""),
		},
		GM: b.isGM(m.Author.ID, m.Member),
	}
}

// userMessage turns an error into text fit for the channel. Faults are
// logged and shown generically.
func (b *Bot) userMessage(err error, fields log.Fields) string {
	if apperr.IsUserError(err) {
		return err.Error()
	}
	b.log.WithFields(fields).WithError(err).Error("Command failed")
	switch apperr.Code(err) {
	case apperr.CodePartialCommit:
		return "the settlement was only partly paid; the GM has to sort it out (see the audit journal)"
	case apperr.CodeNoLedgerPath:
		return "someone has no character with a purse: " + err.Error()
	case apperr.CodeUnresolvedItem:
		return "an item is no longer in the catalog: " + err.Error()
	case apperr.CodeGrantFailed:
		return "coins were taken but the items could not be handed out; tell the GM"
	}
	return "something went wrong, please try again"
}

// interactionUser returns who pressed a component
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
