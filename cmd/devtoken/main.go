// devtoken signs a collab credential with JWT_PRIVATE_KEY for local testing against a running server.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"collab-realtime/backend/internal/config"
	"collab-realtime/backend/internal/security"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		userID    int64
		username  string
		projects  []int64
		proposals []int64
		ttl       time.Duration
		keyFlag   string
	)
	cmd := &cobra.Command{
		Use:          "devtoken",
		Short:        "Issue a development collab credential",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issuerName, audience := "", ""
			key := keyFlag
			if cfg, err := config.Load(); err == nil {
				issuerName, audience = cfg.JWTIssuer, cfg.JWTAudience
				if key == "" {
					key = cfg.JWTPrivateKey
				}
			}
			if key == "" {
				key = os.Getenv("JWT_PRIVATE_KEY")
			}
			if key == "" {
				return errors.New("no signing key: set JWT_PRIVATE_KEY or pass --key")
			}
			signer, err := security.ParsePrivateKey(key)
			if err != nil {
				return fmt.Errorf("private key: %w", err)
			}
			token, exp, err := security.NewIssuer(signer, issuerName, audience).Issue(security.Claims{
				UserID:            userID,
				Username:          username,
				EditableProjects:  projects,
				EditableProposals: proposals,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id (id claim)")
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().Int64SliceVar(&projects, "project", nil, "editable project id (repeatable)")
	cmd.Flags().Int64SliceVar(&proposals, "proposal", nil, "editable proposal id (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "credential lifetime")
	cmd.Flags().StringVar(&keyFlag, "key", "", "PEM private key or path (defaults to JWT_PRIVATE_KEY)")
	return cmd
}
