package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"securecms.org/internal/auth"
	"securecms.org/internal/config"
)

type tokenInfo struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	Issuer    string    `json:"issuer"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	TokenID   string    `json:"tokenId"`
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Session token utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <token>",
		Short: "Validate a token against the configured secret and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Session)
			if err != nil {
				return err
			}
			claims, err := issuer.Validate(args[0], time.Now())
			if err != nil {
				return err
			}
			info := tokenInfo{
				UserID:    claims.UserID,
				Username:  claims.Username,
				Email:     claims.Email,
				Roles:     claims.Roles,
				Issuer:    claims.Issuer,
				IssuedAt:  claims.IssuedAt.Time.UTC(),
				ExpiresAt: claims.ExpiresAt.Time.UTC(),
				TokenID:   claims.ID,
			}
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "user:     %s (%d)\n", info.Username, info.UserID)
			_, _ = fmt.Fprintf(w, "roles:    %s\n", strings.Join(info.Roles, ", "))
			_, _ = fmt.Fprintf(w, "issued:   %s\n", info.IssuedAt.Format(time.RFC3339))
			_, _ = fmt.Fprintf(w, "expires:  %s\n", info.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	})
	return cmd
}
