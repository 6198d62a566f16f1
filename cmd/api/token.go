package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"arrowhead/api/internal/auth"
	"arrowhead/api/internal/config"
)

// newTokenCommand mints a bearer token signed with SUPABASE_JWT_SECRET for
// local testing against the API.
func newTokenCommand(v *viper.Viper) *cobra.Command {
	var (
		subject string
		email   string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("SUPABASE_JWT_SECRET is required to sign tokens")
			}
			if subject == "" {
				return errors.New("--sub is required")
			}
			claims := auth.Claims{Sub: subject, Email: email, Role: "authenticated"}
			if ttl > 0 {
				claims.Exp = time.Now().Add(ttl).Unix()
			}
			token, err := auth.Sign([]byte(cfg.JWTSecret), claims)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime; 0 omits exp")
	return cmd
}
