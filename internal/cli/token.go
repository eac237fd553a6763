package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
)

// NewTokenCmd mints a development JWT signed with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required")
			}
			issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.Duration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := issuer.Issue(domain.Identity{ID: userID, DisplayName: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
