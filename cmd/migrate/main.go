// migrate runs the collab record store migrations from embedded SQL; use with go run ./cmd/migrate up.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"collab-realtime/backend/internal/config"
	"collab-realtime/backend/internal/db/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the collab record store schema",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if dsn == "" {
				dsn = config.DatabaseURL()
			}
			if dsn == "" {
				return errors.New("DATABASE_URL is not set; create a .env or pass --dsn")
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DATABASE_URL)")

	rootCmd.AddCommand(
		newApplyCmd("up", "Apply pending migrations", &dsn),
		newApplyCmd("down", "Roll back migrations", &dsn),
		newVersionCmd(&dsn),
	)
	return rootCmd
}

func newApplyCmd(direction, short string, dsn *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.Run(*dsn, direction, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", direction)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")
	return cmd
}

func newVersionCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, dirty, err := migrate.Version(*dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
}
