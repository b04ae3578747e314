package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-vdev/internal/auth"
)

type tokenOptions struct {
	Subject string
	Role    string
	TTL     int // minutes; zero uses security.jwt.access_token_ttl
}

// newTokenCommand creates the token command, which signs an API access
// token with the configured JWT secret.
func newTokenCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Long: `Sign an access token for the REST API with security.jwt.secret.

Roles:
  viewer    read devices, runs and datapoints
  operator  viewer plus trigger/abort transitions and inject datapoints
  admin     operator plus create, update and delete devices`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "token subject, recorded as the trigger source of runs it starts")
	cmd.Flags().StringVar(&opts.Role, "role", string(auth.RoleOperator), "role granted by the token (viewer|operator|admin)")
	cmd.Flags().IntVar(&opts.TTL, "ttl", 0, "lifetime in minutes (default from config)")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag is defined above

	return cmd
}

func runToken(rootOpts *rootOptions, opts *tokenOptions, cmd *cobra.Command) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is not set (set GRAYLOGIC_JWT_SECRET)")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cfg.Security.JWT.AccessTokenTTL
	}

	token, err := auth.GenerateAccessToken(opts.Subject, auth.Role(opts.Role), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return writeJSON(out, map[string]any{
			"token":      token,
			"subject":    opts.Subject,
			"role":       opts.Role,
			"expires_at": time.Now().Add(time.Duration(ttl) * time.Minute).UTC(),
		})
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
