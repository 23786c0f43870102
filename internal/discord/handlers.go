package discord

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/prompt"
	"github.com/oatsaysai/general-store-in-discord/internal/utils"
	"github.com/oatsaysai/general-store-in-discord/pkg/qrcode"
)

const (
	commandTimeout = 30 * time.Second
	browseLimit    = 15
	receiptPrefix  = "gstore:settlement:"
)

// SendErrorMessage sends an error message to the specified Discord channel
func SendErrorMessage(s *discordgo.Session, channelID, message string) {
	log.WithField("channel", channelID).Debugf("Error to user: %s", message)
	if _, err := s.ChannelMessageSend(channelID, "⚠️ "+message); err != nil {
		log.WithError(err).Warn("Failed to send error message to Discord")
	}
}

func (b *Bot) fail(s *discordgo.Session, m *discordgo.MessageCreate, command string, err error) {
	SendErrorMessage(s, m.ChannelID, b.userMessage(err, log.Fields{"user": m.Author.ID, "command": command}))
}

// handleShopCommand handles !shop [text]
func (b *Bot) handleShopCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	items, err := b.shop.Browse(ctx, strings.Join(args[1:], " "), browseLimit)
	if err != nil {
		b.fail(s, m, "shop", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, RenderCatalog(items))
}

// handleBuyCommand handles !buy <pack:item> [qty]. The buyer confirms the
// price with a button before any coins move.
func (b *Bot) handleBuyCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		SendErrorMessage(s, m.ChannelID, "usage: `!buy <pack:item> [quantity]`")
		return
	}
	ref, err := parseItemArg(args[1])
	if err != nil {
		b.fail(s, m, "buy", err)
		return
	}
	qty, err := quantityAt(args, 2, 1)
	if err != nil {
		b.fail(s, m, "buy", err)
		return
	}

	ctx := context.Background()
	item, err := b.shop.Resolve(ctx, ref)
	if err != nil {
		b.fail(s, m, "buy", err)
		return
	}

	question := fmt.Sprintf("<@%s>, buy %d× **%s** for %s?", m.Author.ID, qty, item.Name, currency.Format(item.Price*int64(qty)))
	confirmed, err := b.prompts.Ask(ctx, m.Author.ID, func(req prompt.Request) error {
		_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
			Content:    question,
			Components: confirmButtons(req.ID, "Buy"),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrTimeout) || errors.Is(err, prompt.ErrDismissed) {
			s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("<@%s>, the purchase was not confirmed in time.", m.Author.ID))
			return
		}
		b.fail(s, m, "buy", err)
		return
	}
	if !confirmed {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	receipt, err := b.shop.Purchase(opCtx, b.callerOf(m), ref, qty)
	if err != nil {
		b.fail(s, m, "buy", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🛍️ <@%s> bought %d× **%s** for %s. Purse: %s",
		m.Author.ID, receipt.Item.Quantity, receipt.Item.Name, currency.Format(receipt.Cost), currency.Format(receipt.Balance)))
}

// handleOrderCommand handles the !order subcommands
func (b *Bot) handleOrderCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	sub := "show"
	if len(args) > 1 {
		sub = strings.ToLower(args[1])
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	caller := b.callerOf(m)

	var (
		state models.OrderState
		err   error
	)
	switch sub {
	case "show":
		state = b.shop.Orders().Snapshot()
	case "add":
		if len(args) < 3 {
			SendErrorMessage(s, m.ChannelID, "usage: `!order add <pack:item> [quantity]`")
			return
		}
		ref, perr := parseItemArg(args[2])
		if perr != nil {
			b.fail(s, m, "order", perr)
			return
		}
		qty, perr := quantityAt(args, 3, 1)
		if perr != nil {
			b.fail(s, m, "order", perr)
			return
		}
		state, err = b.shop.AddToOrder(ctx, caller, ref, qty)
	case "remove":
		if len(args) < 3 {
			SendErrorMessage(s, m.ChannelID, "usage: `!order remove <pack:item>`")
			return
		}
		ref, perr := parseItemArg(args[2])
		if perr != nil {
			b.fail(s, m, "order", perr)
			return
		}
		state, err = b.shop.RemoveFromOrder(ctx, caller, ref.Key())
	case "confirm":
		state, err = b.shop.ConfirmOrder(ctx, caller)
	case "open", "close":
		state, err = b.shop.SetOrderActive(ctx, caller, sub == "open")
	case "checkout":
		b.checkout(ctx, s, m)
		return
	default:
		SendErrorMessage(s, m.ChannelID, fmt.Sprintf("unknown order action `%s`, see `!help order`", sub))
		return
	}
	if err != nil {
		b.fail(s, m, "order", err)
		return
	}

	reply := &discordgo.MessageSend{Content: RenderOrder(state)}
	if state.Active {
		if p, ok := state.Participants[m.Author.ID]; ok && !p.Confirmed && len(p.Items) > 0 {
			reply.Components = orderButtons()
		}
	}
	s.ChannelMessageSendComplex(m.ChannelID, reply)
}

// checkout settles the bulk order and posts the settlement with a QR receipt
func (b *Bot) checkout(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	settlement, err := b.shop.Checkout(ctx, b.callerOf(m))
	if settlement.ID != "" {
		// coins moved, so the receipt is posted even when something failed later
		b.sendReceipt(s, m.ChannelID, settlement)
	}
	if err != nil {
		b.fail(s, m, "checkout", err)
	}
}

// sendReceipt posts a settlement with a QR code carrying its id
func (b *Bot) sendReceipt(s *discordgo.Session, channelID string, settlement models.Settlement) {
	content := RenderSettlement(settlement)
	filename, err := qrcode.Generate(b.cfg.ReceiptDir, "receipt_"+settlement.ID, receiptPrefix+settlement.ID)
	if err != nil {
		b.log.WithError(err).WithField("settlement", settlement.ID).Warn("Could not generate receipt QR")
		s.ChannelMessageSend(channelID, content)
		return
	}
	defer qrcode.Remove(filename)

	file, err := os.Open(filename)
	if err != nil {
		b.log.WithError(err).WithField("settlement", settlement.ID).Warn("Could not open receipt QR")
		s.ChannelMessageSend(channelID, content)
		return
	}
	defer file.Close()

	if _, err := s.ChannelFileSendWithMessage(channelID, content, filepath.Base(filename), file); err != nil {
		b.log.WithError(err).WithField("settlement", settlement.ID).Error("Could not post receipt")
	}
}

// handleWishCommand handles the !wish subcommands
func (b *Bot) handleWishCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	sub := "show"
	if len(args) > 1 {
		sub = strings.ToLower(args[1])
	}
	if sub == "show" {
		s.ChannelMessageSend(m.ChannelID, RenderWishlist(b.shop.Wishlist().Snapshot()))
		return
	}
	if len(args) < 3 {
		SendErrorMessage(s, m.ChannelID, fmt.Sprintf("usage: `!wish %s <pack:item> [quantity]`", sub))
		return
	}
	ref, err := parseItemArg(args[2])
	if err != nil {
		b.fail(s, m, "wish", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	caller := b.callerOf(m)

	switch sub {
	case "add":
		qty, err := quantityAt(args, 3, 1)
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		state, err := b.shop.WishlistAdd(ctx, caller, ref, qty)
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		s.ChannelMessageSend(m.ChannelID, RenderWishlist(state))
	case "remove":
		// no quantity drops the whole claim
		qty, err := quantityAt(args, 3, 0)
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		state, err := b.shop.WishlistRemove(ctx, caller, ref.Key(), qty)
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		s.ChannelMessageSend(m.ChannelID, RenderWishlist(state))
	case "move":
		qty, err := quantityAt(args, 3, heldBy(b.shop.Wishlist().Snapshot(), ref.Key(), m.Author.ID))
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		state, err := b.shop.MoveWishToCart(ctx, caller, ref.Key(), qty)
		if err != nil {
			b.fail(s, m, "wish", err)
			return
		}
		s.ChannelMessageSend(m.ChannelID, RenderOrder(state))
	default:
		SendErrorMessage(s, m.ChannelID, fmt.Sprintf("unknown wishlist action `%s`, see `!help wish`", sub))
	}
}

// heldBy returns how many of key userID has claimed, at least one
func heldBy(w models.WishlistState, key, userID string) int {
	if item, ok := w.Items[key]; ok {
		for _, c := range item.Participants {
			if c.UserID == userID && c.Quantity > 0 {
				return c.Quantity
			}
		}
	}
	return 1
}

// handleWalletCommand handles !wallet
func (b *Bot) handleWalletCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	actor, balance, err := b.shop.Wallet(ctx, m.Author.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			SendErrorMessage(s, m.ChannelID, "you have no character in this game")
			return
		}
		b.fail(s, m, "wallet", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("👛 **%s** carries %s", actor.Name, currency.Format(balance)))
}

// handleOverlayCommand DMs a fresh overlay link. Any earlier link stops working.
func (b *Bot) handleOverlayCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	token := b.cfg.Overlay.Issue(b.callerOf(m).ParticipantRef)
	channel, err := s.UserChannelCreate(m.Author.ID)
	if err != nil {
		b.log.WithError(err).WithField("user", m.Author.ID).Warn("Could not open a DM channel")
		SendErrorMessage(s, m.ChannelID, "I could not send you a direct message")
		return
	}
	link := overlayLink(b.cfg.OverlayURL, token)
	if _, err := s.ChannelMessageSend(channel.ID, "🔗 Your overlay link, keep it private:\n"+link); err != nil {
		b.log.WithError(err).WithField("user", m.Author.ID).Warn("Could not send overlay link")
		SendErrorMessage(s, m.ChannelID, "I could not send you a direct message")
		return
	}
	if channel.ID != m.ChannelID {
		s.ChannelMessageSend(m.ChannelID, "📬 Sent you an overlay link.")
	}
}

// overlayLink appends the token to the bridge address
func overlayLink(base, token string) string {
	if base == "" {
		return "token=" + token
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// handleChargeCommand handles !charge @user <gold>
func (b *Bot) handleChargeCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	ids := utils.ExtractMentionIDs(m.Content)
	if len(ids) != 1 || len(args) < 3 {
		SendErrorMessage(s, m.ChannelID, "usage: `!charge @user <gold>`")
		return
	}
	var amountArgs []string
	for _, a := range args[1:] {
		if !utils.UserMentionRegex.MatchString(a) {
			amountArgs = append(amountArgs, a)
		}
	}
	gold, err := parseGold(amountArgs)
	if err != nil {
		b.fail(s, m, "charge", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res, err := b.shop.Charge(ctx, b.callerOf(m), ids[0], gold)
	if err != nil {
		b.fail(s, m, "charge", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("💰 Took %s from <@%s>. Purse: %s",
		currency.Format(currency.RoundMajor(gold)), ids[0], currency.Format(res.Balance)))
}

// handleFiltersCommand handles !filters [show|clear|set ...]
func (b *Bot) handleFiltersCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	current, err := b.shop.Filters(ctx)
	if err != nil {
		b.fail(s, m, "filters", err)
		return
	}
	sub := "show"
	if len(args) > 1 {
		sub = strings.ToLower(args[1])
	}

	next := current
	switch sub {
	case "show":
		s.ChannelMessageSend(m.ChannelID, "🔎 "+RenderFilters(current))
		return
	case "clear":
		next = models.CatalogFilters{}
	case "set":
		next, err = parseFilters(current, args[2:])
		if err != nil {
			b.fail(s, m, "filters", err)
			return
		}
	default:
		SendErrorMessage(s, m.ChannelID, fmt.Sprintf("unknown filters action `%s`, see `!help filters`", sub))
		return
	}
	if err := b.shop.SetFilters(ctx, b.callerOf(m), next); err != nil {
		b.fail(s, m, "filters", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, "🔎 "+RenderFilters(next))
}

// handleReceiptCommand handles !receipt <id> or an attached receipt image
func (b *Bot) handleReceiptCommand(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var id string
	switch {
	case len(args) > 1:
		id = strings.TrimPrefix(args[1], receiptPrefix)
	case len(m.Attachments) > 0:
		payload, err := b.decodeAttachment(ctx, m.Attachments[0].URL)
		if err != nil {
			b.log.WithError(err).WithField("user", m.Author.ID).Info("Could not read receipt image")
			SendErrorMessage(s, m.ChannelID, "could not read a receipt QR code from that image")
			return
		}
		var ok bool
		if id, ok = utils.ExtractSettlementID(payload); !ok {
			SendErrorMessage(s, m.ChannelID, "that QR code is not a shop receipt")
			return
		}
	default:
		SendErrorMessage(s, m.ChannelID, "usage: `!receipt <settlement id>` or attach the receipt image")
		return
	}

	settlement, err := b.shop.Settlement(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			SendErrorMessage(s, m.ChannelID, fmt.Sprintf("no settlement `%s`", id))
			return
		}
		b.fail(s, m, "receipt", err)
		return
	}
	s.ChannelMessageSend(m.ChannelID, RenderSettlement(settlement))
}

// decodeAttachment downloads an image and reads the QR code in it
func (b *Bot) decodeAttachment(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", errors.Wrap(err, "build attachment request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "download attachment")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("download attachment: status %d", resp.StatusCode)
	}
	return qrcode.Decode(resp.Body)
}
