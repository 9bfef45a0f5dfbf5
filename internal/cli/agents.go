package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/pkg/catalog"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents that chat and ask can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODEL\tAPP\tUSER\tDESCRIPTION")
		for _, name := range catalog.Names() {
			e, err := catalog.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.DefaultModel, e.AppName, e.UserID, e.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
