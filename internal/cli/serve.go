package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/pipestress/internal/config"
	"github.com/wesleyorama2/pipestress/internal/target"
)

func newServeCmd(log func() *zap.Logger) *cobra.Command {
	var (
		listen    string
		shortEcho bool
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference echo target",
		Long: `Run an HTTP/1.1 echo server to stress against.

Every response echoes the X-Pipeline-Seq request header, reports the number
of body bytes received in X-Received-Length and in a JSON body, and carries no
body for HEAD. GET /status/<code> answers with that status.

--short-echo under-reports received lengths by one byte, which makes
echo-length checks fail on purpose.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := target.Start(listen, target.Options{
				ShortEcho: shortEcho,
				Delay:     delay,
				Logger:    log(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Echo target listening on %s\n", srv.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- srv.Wait() }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
				return err
			}
			return <-done
		},
	}

	f := cmd.Flags()
	f.StringVarP(&listen, "listen", "l", config.DefaultAddress, "Address to listen on")
	f.BoolVar(&shortEcho, "short-echo", false, "Under-report received body lengths by one byte")
	f.DurationVar(&delay, "delay", 0, "Delay before every response")
	return cmd
}
