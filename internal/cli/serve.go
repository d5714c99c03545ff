package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journey/internal/api"
	"github.com/mesh-intelligence/journey/internal/auth"
	"github.com/mesh-intelligence/journey/internal/bot"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd(s *state) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and Telegram webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return s.serve(ctx, addr, origins)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: listen_addr from config)")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "CORS origin to allow (repeatable; default any)")
	return cmd
}

func (s *state) serve(ctx context.Context, addr string, origins []string) error {
	a, err := s.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is not set; run journey init", errUsage)
	}
	if addr == "" {
		addr = a.cfg.ListenAddr
	}
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	tokens := auth.NewTokens(a.cfg.Auth.JWTSecret)

	opts := []api.Option{
		api.WithLogger(a.logger.Named("api")),
		api.WithMetrics(a.metrics),
		api.WithChatRate(a.cfg.Chat.RatePerMinute),
		api.WithAllowOrigins(origins...),
		api.WithAnalyzer(orch),
	}
	if a.cfg.Telegram.BotToken != "" {
		client := bot.NewClient(a.cfg.Telegram.BotToken, a.cfg.Telegram.APIBase, bot.WithClientLogger(a.logger.Named("telegram")))
		b := bot.New(a.store, orch, a.actions, a.history, client,
			bot.WithLogger(a.logger.Named("bot")),
			bot.WithMetrics(a.metrics),
			bot.WithVerifier(tokens),
		)
		opts = append(opts,
			api.WithWebhook(b, a.cfg.Telegram.WebhookSecret),
			api.WithLinkTokens(tokens, a.cfg.Telegram.BotUsername),
		)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(orch, a.actions, a.history, a.resolver, tokens, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", addr), zap.Bool("telegram", a.cfg.Telegram.BotToken != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
