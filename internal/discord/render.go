package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// RenderOrder formats the bulk order summary
func RenderOrder(s models.OrderState) string {
	var b strings.Builder
	status := "closed"
	if s.Active {
		status = "open"
	}
	fmt.Fprintf(&b, "🛒 **Bulk order** (%s)\n", status)

	ids := s.ParticipantIDs()
	if len(ids) == 0 {
		b.WriteString("_Nobody has added anything yet._\n")
	}
	for _, id := range ids {
		p := s.Participants[id]
		mark := "⏳"
		if p.Confirmed {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s **%s** (%s)\n", mark, p.Name, currency.Format(p.Subtotal()))
		for _, item := range p.Items {
			fmt.Fprintf(&b, "  • %d× %s `%s` @ %s\n", item.Quantity, item.Name, item.Ref().Key(), currency.Format(item.Price))
		}
	}
	fmt.Fprintf(&b, "**Total:** %s", currency.Format(s.TotalPrice))
	return b.String()
}

// RenderWishlist formats the wishlist summary
func RenderWishlist(s models.WishlistState) string {
	var b strings.Builder
	b.WriteString("⭐ **Wishlist**\n")
	keys := s.Keys()
	if len(keys) == 0 {
		b.WriteString("_The wishlist is empty._")
		return b.String()
	}
	for i, key := range keys {
		item := s.Items[key]
		claims := make([]string, 0, len(item.Participants))
		for _, c := range item.Participants {
			claims = append(claims, fmt.Sprintf("%s ×%d", c.Name, c.Quantity))
		}
		fmt.Fprintf(&b, "• %d× %s `%s` @ %s (%s)", item.Quantity, item.Name, key, currency.Format(item.Price), strings.Join(claims, ", "))
		if i < len(keys)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderSettlement formats a settlement for the channel
func RenderSettlement(s models.Settlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 **Settlement** `%s` (%s)\n", s.ID, s.Status)
	fmt.Fprintf(&b, "Total %s", currency.Format(s.Total))
	if s.PoolUsed > 0 {
		fmt.Fprintf(&b, ", party pool paid %s", currency.Format(s.PoolUsed))
	}
	b.WriteString("\n")
	debited := make(map[string]bool, len(s.Debited))
	for _, id := range s.Debited {
		debited[id] = true
	}
	for _, share := range s.Shares {
		if s.Status == models.SettlementPartial && share.Remainder > 0 && !debited[share.ActorID] {
			fmt.Fprintf(&b, "• <@%s> was not charged %s of %s\n", share.UserID, currency.Format(share.Remainder), currency.Format(share.Subtotal))
			continue
		}
		fmt.Fprintf(&b, "• <@%s> paid %s of %s\n", share.UserID, currency.Format(share.Remainder), currency.Format(share.Subtotal))
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "⚠️ %s\n", s.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderCatalog formats browse results
func RenderCatalog(items []models.ItemDescriptor) string {
	if len(items) == 0 {
		return "No items match."
	}
	var b strings.Builder
	for _, d := range items {
		fmt.Fprintf(&b, "`%s` **%s** · %s · level %d %s\n", d.Ref().Key(), d.Name, currency.Format(d.Price), d.Level, d.Rarity)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderFilters formats the catalog filters
func RenderFilters(f models.CatalogFilters) string {
	level := func(p *int) string {
		if p == nil {
			return "*"
		}
		return fmt.Sprint(*p)
	}
	list := func(l []string) string {
		if len(l) == 0 {
			return "*"
		}
		return strings.Join(l, ",")
	}
	return fmt.Sprintf("level %s-%s · rarity %s · traits %s", level(f.MinLevel), level(f.MaxLevel), list(f.Rarities), list(f.Traits))
}

// messenger is the part of the session the summary poster needs
type messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Summary keeps one message per kind up to date. Pushes never block; only
// the latest content pending for a kind is posted.
type Summary struct {
	out       messenger
	channelID string
	log       *log.Entry

	mu       sync.Mutex
	pending  map[string]string
	messages map[string]string
	wake     chan struct{}
}

// NewSummary creates a poster for channelID
func NewSummary(out messenger, channelID string, logger *log.Entry) *Summary {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Summary{
		out:       out,
		channelID: channelID,
		log:       logger.WithField("component", "summary"),
		pending:   make(map[string]string),
		messages:  make(map[string]string),
		wake:      make(chan struct{}, 1),
	}
}

// Push replaces the content waiting to be posted for kind
func (s *Summary) Push(kind, content string) {
	s.mu.Lock()
	s.pending[kind] = content
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run posts pending content until ctx ends
func (s *Summary) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.Flush()
		}
	}
}

// Flush posts everything pending now
func (s *Summary) Flush() {
	s.mu.Lock()
	work := s.pending
	s.pending = make(map[string]string)
	s.mu.Unlock()

	for kind, content := range work {
		s.post(kind, content)
	}
}

func (s *Summary) post(kind, content string) {
	s.mu.Lock()
	messageID := s.messages[kind]
	s.mu.Unlock()

	if messageID != "" {
		_, err := s.out.ChannelMessageEdit(s.channelID, messageID, content)
		if err == nil {
			return
		}
		s.log.WithError(err).WithField("kind", kind).Warn("Could not edit summary, posting a new one")
	}
	msg, err := s.out.ChannelMessageSend(s.channelID, content)
	if err != nil {
		s.log.WithError(err).WithField("kind", kind).Error("Could not post summary")
		return
	}
	s.mu.Lock()
	s.messages[kind] = msg.ID
	s.mu.Unlock()
}
