package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/retail-scraper/internal/app"
	"github.com/maltedev/retail-scraper/internal/session"
)

func newSessionsCmd(e *env) *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune cached location sessions",
	}
	cmd.PersistentFlags().StringVar(&site, "site", "", "limit to one site")

	withStore := func(run func(cmd *cobra.Command, store session.Store) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := app.OpenSessions(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, store)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached sessions",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store session.Store) error {
			infos, err := store.List(cmd.Context(), site)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SITE\tZIPCODE\tCREATED\tVALID")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", info.Site, info.Zipcode, info.CreatedAt.Format(time.RFC3339), info.Valid)
			}
			return tw.Flush()
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store session.Store) error {
			n, err := store.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired sessions\n", n)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all sessions, or those of --site",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store session.Store) error {
			n, err := store.ClearAll(cmd.Context(), site)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d sessions\n", n)
			return nil
		}),
	})

	return cmd
}
