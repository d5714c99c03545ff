package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/internal/auth"
	"github.com/mesh-intelligence/journey/internal/bot"
)

func newTokenCmd(s *state) *cobra.Command {
	var (
		ttl  time.Duration
		link bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API, or a link token for the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, err := s.configDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			userID, err := s.userID(cfg)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("%w: auth.jwt_secret is not set; run journey init", errUsage)
			}
			tokens := auth.NewTokens(cfg.Auth.JWTSecret)
			if link {
				token, expires, err := tokens.IssueLink(userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "/link %s\n", token)
				fmt.Fprintf(cmd.ErrOrStderr(), "Send this to the bot before %s.\n", expires.Local().Format("15:04"))
				return nil
			}
			token, err := tokens.Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "bearer token lifetime")
	cmd.Flags().BoolVar(&link, "link", false, "issue a short-lived token that links a Telegram chat")
	return cmd
}

func newTelegramCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Manage the Telegram bot",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-webhook <url>",
		Short: "Point the bot at this server's /telegram/webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := s.configDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" {
				return fmt.Errorf("%w: telegram.bot_token is not set", errUsage)
			}
			client := bot.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIBase)
			if err := client.SetWebhook(cmd.Context(), args[0], cfg.Telegram.WebhookSecret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
