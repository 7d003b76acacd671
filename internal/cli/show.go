package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/pipestress/internal/config"
)

// showLimit caps the bytes printed per request unless --full is given.
const showLimit = 2048

func newShowCmd() *cobra.Command {
	var (
		scripts []string
		target  string
		small   int
		big     int
		noTag   bool
		full    bool
	)

	cmd := &cobra.Command{
		Use:   "show <scenario>",
		Short: "Print the exact bytes a scenario sends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Target.Address = target
			if small > 0 {
				cfg.BodySizes.Small = small
			}
			if big > 0 {
				cfg.BodySizes.Big = big
			}
			tag := !noTag
			cfg.TagRequests = &tag

			registry, err := newRegistry(scripts)
			if err != nil {
				return err
			}
			s, err := registry.Resolve(args[0])
			if err != nil {
				return err
			}
			plan, err := newDriver(cfg, nil).Prepare(s)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s: %s\n", s.Name, s.Description)
			fmt.Fprintf(out, "# connection %s, %d groups, %d requests, %d bytes per run\n",
				plan.Connection, len(s.Groups), s.RequestCount(), plan.Bytes())

			for gi, group := range s.Groups {
				for ri, req := range group.Requests {
					wire := plan.Wire(gi, ri)
					fmt.Fprintf(out, "\n# group %d request %d: %s (%d bytes)\n", gi, ri, req.DisplayName(), len(wire))
					if !full && len(wire) > showLimit {
						fmt.Fprintf(out, "%s\n# ... %d more bytes\n", wire[:showLimit], len(wire)-showLimit)
						continue
					}
					out.Write(wire)
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&scripts, "script", "s", nil, "Extra scenario file (repeatable)")
	f.StringVarP(&target, "target", "t", config.DefaultAddress, "Host header value")
	f.IntVar(&small, "small", 0, "Size of small bodies in bytes")
	f.IntVar(&big, "big", 0, "Size of big bodies in bytes")
	f.BoolVar(&noTag, "no-tag", false, "Do not add X-Pipeline-Seq headers")
	f.BoolVar(&full, "full", false, "Print big bodies in full")
	return cmd
}
