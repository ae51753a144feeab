package cli

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"securecms.org/internal/auth"
)

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Password utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash [password]",
		Short: "Print a bcrypt hash; reads the password from stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password is required")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return printValue(cmd, "hash", hash)
		},
	})
	return cmd
}
