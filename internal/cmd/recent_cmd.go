package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/recent"
)

func newRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently attached files",
		Long: strings.TrimSpace(`
Show files recently sent as attachments from this machine, newest first.
The list is scoped to the current server and user and never stores file
contents, only metadata.
`),
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			dir, err := recent.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}

			entries := recent.NewStore(dir, cfg.BaseURL, cfg.UserID).List()

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"entries": entries})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No recent attachments.")
				return nil
			}
			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ATTACHED\tKIND\tNAME\tPATH")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.AttachedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Name, e.LocalPath)
			}
			return nil
		}),
	}

	cmd.AddCommand(newRecentClearCmd())
	return cmd
}

func newRecentClearCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget recent attachments",
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			dir, err := recent.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}

			if all {
				recent.ClearAll(dir)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared recent attachments for all accounts.")
				return nil
			}

			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			recent.NewStore(dir, cfg.BaseURL, cfg.UserID).Clear()
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared recent attachments.")
			return nil
		}),
	}

	cmd.Flags().BoolVar(&all, "all", false, "Clear lists for every server and user")
	return cmd
}
