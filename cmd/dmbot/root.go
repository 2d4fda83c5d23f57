package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/app"
	"github.com/pointcrash/ai-dm-bot/internal/config"
	"github.com/pointcrash/ai-dm-bot/internal/logging"
	"github.com/pointcrash/ai-dm-bot/internal/security"
)

// vaultPasswordEnv unlocks the encrypted secret vault when the OS keyring is unavailable.
const vaultPasswordEnv = "DMBOT_VAULT_PASSWORD"

const rootLongDesc string = `dmbot is a Dungeon Master for tabletop role-playing chats.

It remembers the campaign: recent turns stay in a bounded window, older
ones are summarized or indexed for retrieval.

  dmbot serve      Run the Telegram bot
  dmbot console    Play in the terminal
  dmbot secret     Manage API keys and tokens`

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:          "dmbot",
		Short:        "AI Dungeon Master bot",
		Long:         rootLongDesc,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (default ~/.dmbot/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newConsoleCmd(flags))
	cmd.AddCommand(newSecretCmd(flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// environment is what every subcommand loads before it does anything.
type environment struct {
	logger   *zap.Logger
	loader   *config.Loader
	cfg      *config.Config
	keyStore *security.KeyStore
}

func loadEnvironment(flags *globalFlags) (*environment, error) {
	bootstrap := logging.New(flags.debug)
	loader, err := config.NewLoader(flags.configPath, bootstrap)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := bootstrap
	if cfg.Debug && !flags.debug {
		logger = logging.New(true)
	}

	dir, err := config.HomeDir()
	if err != nil {
		return nil, err
	}
	ks, err := security.NewKeyStore(dir, os.Getenv(vaultPasswordEnv), cfg.Security.UseKeyring, logger)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return &environment{logger: logger, loader: loader, cfg: cfg, keyStore: ks}, nil
}

// runApp builds the bot for mode and runs it until ctx is done.
func runApp(ctx context.Context, env *environment, opts app.Options) error {
	defer env.logger.Sync()

	opts.Config = env.cfg
	opts.Loader = env.loader
	opts.Logger = env.logger
	opts.KeyStore = env.keyStore

	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}
