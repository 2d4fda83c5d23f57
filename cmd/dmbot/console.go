package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pointcrash/ai-dm-bot/internal/app"
)

type consoleCommander struct {
	flags  *globalFlags
	userID int64
}

func newConsoleCmd(flags *globalFlags) *cobra.Command {
	cmder := &consoleCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Play in the terminal",
		Long:  "Reads player messages from stdin and prints the Dungeon Master's replies. Slash commands work as in Telegram.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}
	cmd.Flags().Int64VarP(&cmder.userID, "user", "u", 1, "Player id attached to console messages")
	return cmd
}

func (c *consoleCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnvironment(c.flags)
	if err != nil {
		return err
	}
	return runApp(ctx, env, app.Options{
		Mode:          app.ModeConsole,
		In:            os.Stdin,
		Out:           os.Stdout,
		ConsoleUserID: c.userID,
	})
}
