package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oatsaysai/general-store-in-discord/internal/audit"
	"github.com/oatsaysai/general-store-in-discord/internal/checkout"
	"github.com/oatsaysai/general-store-in-discord/internal/config"
	"github.com/oatsaysai/general-store-in-discord/internal/db"
	"github.com/oatsaysai/general-store-in-discord/internal/discord"
	"github.com/oatsaysai/general-store-in-discord/internal/prompt"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
	"github.com/oatsaysai/general-store-in-discord/internal/shop"
	"github.com/oatsaysai/general-store-in-discord/internal/transport/ws"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, the relay listener and the overlay bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.WithFields(log.Fields{"client": cfg.Shop.ClientID})

	pool, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	role, err := shop.ParseRole(cfg.Shop.Role)
	if err != nil {
		return err
	}

	store := db.NewStore(pool, logger)
	bus := relay.NewPGBus(pool, cfg.Shop.Topic, logger)

	deps := shop.Deps{
		Settings:    store,
		Bus:         bus,
		Catalog:     store.Catalog(),
		Settlements: store,
	}
	if role == shop.RoleGM {
		journal := audit.NewJournal(cfg.Audit.Dir)
		defer func() {
			if err := journal.Close(); err != nil {
				logger.WithError(err).Warn("Could not close audit journal")
			}
		}()
		deps.Accounts = store
		deps.Recorders = []checkout.Recorder{store, journal}
	}

	svc, err := shop.New(shop.Config{
		Role:          role,
		ClientID:      cfg.Shop.ClientID,
		RemoteTimeout: cfg.Shop.RemoteTimeout,
		PoolActorID:   cfg.Shop.PartyActorID,
	}, deps, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Listen(gctx)
	})

	if err := svc.Start(gctx); err != nil {
		return err
	}
	defer svc.Close()

	sessions := ws.NewSessions()
	prompts := prompt.NewBroker(cfg.Shop.PromptTimeout, logger)
	bot, err := discord.New(discord.Config{
		Token:      cfg.DiscordBot.Token,
		ChannelID:  cfg.DiscordBot.ChannelID,
		GMUserIDs:  cfg.DiscordBot.GMUserIDs,
		GMRoleID:   cfg.DiscordBot.GMRoleID,
		ReceiptDir: cfg.Audit.Dir,
		Overlay:    sessions,
		OverlayURL: cfg.Server.OverlayURL,
	}, svc, prompts, logger)
	if err != nil {
		return err
	}
	if err := bot.Open(gctx); err != nil {
		return err
	}
	defer bot.Close()

	bridge := ws.NewServer(bus, map[string]ws.Snapshot{
		"order":    func() any { return svc.Orders().Snapshot() },
		"wishlist": func() any { return svc.Wishlist().Snapshot() },
	}, sessions, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           bridge.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Overlay bridge listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "overlay bridge")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.WithField("role", role).Info("General store is now running. Press CTRL+C to exit.")
	err = g.Wait()
	logger.Info("General store shutting down...")
	return err
}
