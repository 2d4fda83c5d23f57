package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pointcrash/ai-dm-bot/internal/app"
	"github.com/pointcrash/ai-dm-bot/internal/security"
)

var secretNames = []string{
	app.SecretLLMKey,
	app.SecretFallbackLLMKey,
	app.SecretEmbeddingKey,
	app.SecretVoiceKey,
	app.SecretTelegramToken,
}

type secretCommander struct {
	flags *globalFlags
}

func newSecretCmd(flags *globalFlags) *cobra.Command {
	cmder := &secretCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage stored secrets",
		Long: "Stores secrets in the OS keyring, or in an encrypted vault unlocked by " + vaultPasswordEnv + ".\n" +
			"Reference a stored secret from the config with the value " + security.KeyringPlaceholder + ".\n\n" +
			"Names: " + strings.Join(secretNames, ", "),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.set(cmd, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Show a masked secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.get(cmd, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.delete(cmd, args[0])
		},
	})
	return cmd
}

func (c *secretCommander) keyStore(name string) (*security.KeyStore, error) {
	if !slices.Contains(secretNames, name) {
		return nil, fmt.Errorf("unknown secret %q, expected one of %s", name, strings.Join(secretNames, ", "))
	}
	env, err := loadEnvironment(c.flags)
	if err != nil {
		return nil, err
	}
	return env.keyStore, nil
}

func (c *secretCommander) set(cmd *cobra.Command, name, value string) error {
	ks, err := c.keyStore(name)
	if err != nil {
		return err
	}
	if err := ks.Set(name, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s. Set it to %s in the config to use it.\n", name, security.KeyringPlaceholder)
	return nil
}

func (c *secretCommander) get(cmd *cobra.Command, name string) error {
	ks, err := c.keyStore(name)
	if err != nil {
		return err
	}
	val, err := ks.Get(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, security.MaskKey(val))
	return nil
}

func (c *secretCommander) delete(cmd *cobra.Command, name string) error {
	ks, err := c.keyStore(name)
	if err != nil {
		return err
	}
	if err := ks.Delete(name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", name)
	return nil
}
