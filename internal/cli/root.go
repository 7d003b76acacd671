// Package cli implements the pipestress command line.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var verbose bool
	logger := zap.NewNop()

	root := &cobra.Command{
		Use:     "pipestress",
		Short:   "Stress-test HTTP/1.1 request pipelining",
		Version: version,
		Long: `pipestress drives named traffic scripts against an HTTP/1.1 server,
writing each request group back-to-back on one connection and checking that
every response arrives complete, in order and as expected.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(verbose)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output and debug logging")

	log := func() *zap.Logger { return logger }
	root.AddCommand(newRunCmd(log))
	root.AddCommand(newListCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newServeCmd(log))
	return root
}

// Execute runs the command line. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// newLogger builds a development logger when verbose, otherwise a production
// logger that only reports warnings and errors on stderr.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
