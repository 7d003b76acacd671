package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var scripts []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry(scripts)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tGROUPS\tREQUESTS\tCONNECTION\tDESCRIPTION")
			for _, name := range registry.Names() {
				s, err := registry.Resolve(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", s.Name, len(s.Groups), s.RequestCount(), s.Connection, s.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&scripts, "script", "s", nil, "Extra scenario file (repeatable)")
	return cmd
}
