// Package discord is the chat front end of the shop: commands, confirmation
// buttons and the order and wishlist summaries kept current in one channel.
package discord

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/prompt"
	"github.com/oatsaysai/general-store-in-discord/internal/shop"
)

// Config is the Discord side of the configuration
type Config struct {
	Token      string
	ChannelID  string
	GMUserIDs  []string
	GMRoleID   string
	ReceiptDir string
	// Overlay issues overlay tokens; !overlay is only offered when set
	Overlay    OverlayIssuer
	OverlayURL string
}

// OverlayIssuer hands out tokens that let an overlay act as one user
type OverlayIssuer interface {
	Issue(who models.ParticipantRef) string
}

// Bot owns the Discord session
type Bot struct {
	cfg      Config
	session  *discordgo.Session
	shop     *shop.Service
	prompts  *prompt.Broker
	registry *Registry
	summary  *Summary
	http     *http.Client
	log      *log.Entry

	unsubscribe []func()
	cancel      context.CancelFunc
}

// New creates the bot. Open connects it.
func New(cfg Config, svc *shop.Service, prompts *prompt.Broker, logger *log.Entry) (*Bot, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "error creating Discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsDirectMessages

	if cfg.ReceiptDir == "" {
		cfg.ReceiptDir = os.TempDir()
	}
	b := &Bot{
		cfg:      cfg,
		session:  session,
		shop:     svc,
		prompts:  prompts,
		registry: NewRegistry(),
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      logger.WithField("component", "discord"),
	}
	b.summary = NewSummary(session, cfg.ChannelID, logger)
	b.registerCommands()
	return b, nil
}

// Open registers handlers, connects and starts rendering state into the
// shop channel
func (b *Bot) Open(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.processCommand(s, m)
	})
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type == discordgo.InteractionMessageComponent {
			b.handleMessageComponentInteraction(s, i)
		}
	})

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "error opening connection to Discord")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.summary.Run(runCtx)

	b.unsubscribe = append(b.unsubscribe,
		b.shop.Orders().Subscribe(func(s models.OrderState) { b.summary.Push("order", RenderOrder(s)) }),
		b.shop.Wishlist().Subscribe(func(s models.WishlistState) { b.summary.Push("wishlist", RenderWishlist(s)) }),
	)
	b.summary.Push("order", RenderOrder(b.shop.Orders().Snapshot()))
	b.summary.Push("wishlist", RenderWishlist(b.shop.Wishlist().Snapshot()))

	b.log.Info("Connected to Discord successfully")
	return nil
}

// Close disconnects the session
func (b *Bot) Close() {
	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
	b.unsubscribe = nil
	if b.cancel != nil {
		b.cancel()
	}
	if err := b.session.Close(); err != nil {
		b.log.WithError(err).Warn("Error closing Discord session")
	}
}

// processCommand routes a message to the appropriate command handler
func (b *Bot) processCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Skip messages from the bot itself
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	cmd, args, ok := b.registry.Match(m.Content)
	if !ok {
		if len(args) > 0 {
			b.log.WithField("command", args[0]).Debug("Unrecognized command")
		}
		return
	}
	if cmd.GMOnly && !b.isGM(m.Author.ID, m.Member) {
		SendErrorMessage(s, m.ChannelID, "only the GM can use `!"+cmd.Name+"`")
		return
	}
	go cmd.Handler(s, m, args)
}
