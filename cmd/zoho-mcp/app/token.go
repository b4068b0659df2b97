package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/auth"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/config"
)

func newTokenCmd() *cobra.Command {
	var (
		subject  string
		lifetime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a client bearer token",
		Long: `Mints an HS256 bearer token signed with the configured key. The
token is printed to stdout and identifies the client in rate limiting and
logs through its subject claim.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.JWT.Secret) < config.MinBearerKeyLength {
				return fmt.Errorf("jwt.secret must be at least %d bytes", config.MinBearerKeyLength)
			}
			if lifetime > cfg.JWT.MaxLifetime {
				return fmt.Errorf("lifetime %s exceeds the %s ceiling", lifetime, cfg.JWT.MaxLifetime)
			}

			verifier := auth.NewBearerVerifier([]byte(cfg.JWT.Secret), cfg.JWT.MaxLifetime)
			token, err := verifier.Mint(subject, lifetime)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject claim identifying the client")
	cmd.Flags().DurationVar(&lifetime, "lifetime", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
