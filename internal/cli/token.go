package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/fitstate/internal/auth"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		secret   string
		issuer   string
		subject  string
		owner    string
		deviceID string
		scopes   []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			token, err := auth.Sign(auth.Config{Secret: secret, Issuer: issuer}, auth.Claims{
				Subject:  subject,
				Owner:    owner,
				DeviceID: deviceID,
				Scopes:   auth.NewScopes(scopes...),
			}, ttl)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "dev-secret-change-me", "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", "fitstate", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&owner, "owner", "", "document owner (defaults to the subject)")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id claim")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeStateRead, auth.ScopeStateWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
