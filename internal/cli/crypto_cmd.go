package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"securecms.org/internal/config"
	"securecms.org/internal/cryptobox"
)

func newCryptoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crypto",
		Short: "Encrypt or decrypt field values with the configured master key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "encrypt <plaintext>",
			Short: "Encrypt a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				box, err := loadBox()
				if err != nil {
					return err
				}
				out, err := box.Encrypt(args[0])
				if err != nil {
					return err
				}
				return printValue(cmd, "ciphertext", out)
			},
		},
		&cobra.Command{
			Use:   "decrypt <ciphertext>",
			Short: "Decrypt a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				box, err := loadBox()
				if err != nil {
					return err
				}
				out, err := box.Decrypt(args[0])
				if err != nil {
					return err
				}
				return printValue(cmd, "plaintext", out)
			},
		},
	)
	return cmd
}

func loadBox() (*cryptobox.Box, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cryptobox.New(cfg.Encryption)
}

func printValue(cmd *cobra.Command, key, value string) error {
	if outputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{key: value})
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), value)
	return err
}
