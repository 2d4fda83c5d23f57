package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pointcrash/ai-dm-bot/internal/app"
)

type serveCommander struct {
	flags *globalFlags
}

const serveLongDesc string = `Run the bot on Telegram.

The bot token is read from channels.telegram.token (or DMBOT_CHANNELS_TELEGRAM_TOKEN).
Set it to [keyring] to use the token stored with "dmbot secret set telegram_token".`

func newServeCmd(flags *globalFlags) *cobra.Command {
	cmder := &serveCommander{flags: flags}

	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}
}

func (c *serveCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnvironment(c.flags)
	if err != nil {
		return err
	}
	return runApp(ctx, env, app.Options{Mode: app.ModeTelegram})
}
