package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/streamchat/internal/app"
	"github.com/vovakirdan/streamchat/internal/config"
	"github.com/vovakirdan/streamchat/internal/log"
)

func newConnectCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a chat, print incoming messages and send lines from stdin",
		Long: `Connect to a chat, print incoming messages and send lines from stdin.

Input commands:
  /join <channel>     join a channel (goodgame: id or id:name)
  /part <channel>     leave a channel
  /history <channel>  request the channel backlog (goodgame)
  /quit               disconnect and exit

The token is read from STREAMCHAT_TOKEN or the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New(overrides.LogLevel)

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().
				Str("config", path).
				Str("backend", cfg.Backend).
				Strs("channels", cfg.Channels).
				Msg("starting streamchat")

			application, err := app.New(&cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("streamchat exited with error")
				return err
			}
			logger.Info().Msg("streamchat stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	flags.StringVar(&overrides.Backend, "backend", "", "chat backend: twitch or goodgame")
	flags.StringVar(&overrides.URI, "uri", "", "chat WebSocket URI (backend default when empty)")
	flags.StringVar(&overrides.User, "user", "", "login name (twitch) or numeric user id (goodgame)")
	flags.StringArrayVar(&overrides.Channels, "channel", nil, "channel to join after login, repeatable")
	flags.StringVar(&overrides.StatusAddr, "status-addr", "", "listen address of the HTTP status endpoint, e.g. :8081")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.BoolVar(&overrides.RejoinAfterAuth, "rejoin-after-auth", false, "wait for login confirmation before rejoining after a reconnect")

	return cmd
}
