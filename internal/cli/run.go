package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/pipestress/internal/config"
	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/output"
	"github.com/wesleyorama2/pipestress/internal/pipeline"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/internal/stress"
	"github.com/wesleyorama2/pipestress/internal/validate"
)

// runOptions holds the run command's flags.
type runOptions struct {
	configFile  string
	target      string
	tls         bool
	insecure    bool
	serverName  string
	concurrency int
	iterations  int
	rate        float64
	connection  string
	scripts     []string
	failFast    bool
	sequential  bool
	noTag       bool
	small       int
	big         int
	readTimeout time.Duration
	jsonOutput  bool
	outputPath  string
	allRuns     bool
	noColor     bool
}

func newRunCmd(log func() *zap.Logger) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios against a target",
		Long: `Run traffic scenarios against an HTTP/1.1 target.

Every scenario runs --iterations times on each of --concurrency workers, each
run on its own connection. With no scenario arguments, the scenarios from the
configuration file run, or every registered scenario if it names none.

Examples:
  pipestress run --target 127.0.0.1:8080 head_get post_big
  pipestress run --config stress.yaml --concurrency 8 --iterations 50
  pipestress run --target example.com:443 --tls --json --output report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")

			cfg, err := loadRunConfig(cmd, opts, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runStress(ctx, cfg, opts, verbose, cmd.OutOrStdout(), log())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Run configuration file (YAML or JSON)")
	f.StringVarP(&opts.target, "target", "t", "", "Target address host:port")
	f.BoolVar(&opts.tls, "tls", false, "Connect with TLS")
	f.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	f.StringVar(&opts.serverName, "server-name", "", "TLS server name (defaults to the target host)")
	f.IntVarP(&opts.concurrency, "concurrency", "n", config.DefaultConcurrency, "Workers per scenario")
	f.IntVarP(&opts.iterations, "iterations", "i", config.DefaultIterations, "Runs per worker")
	f.Float64Var(&opts.rate, "rate", 0, "Maximum run starts per second across all workers (0 = unlimited)")
	f.StringVar(&opts.connection, "connection", "", "Override connection policy: persistent or per-group")
	f.StringSliceVarP(&opts.scripts, "script", "s", nil, "Extra scenario file (repeatable)")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Stop starting runs of a scenario after its first failure")
	f.BoolVar(&opts.sequential, "sequential", false, "Run scenarios one after another")
	f.BoolVar(&opts.noTag, "no-tag", false, "Do not add X-Pipeline-Seq headers")
	f.IntVar(&opts.small, "small", 0, "Size of small bodies in bytes")
	f.IntVar(&opts.big, "big", 0, "Size of big bodies in bytes")
	f.DurationVar(&opts.readTimeout, "read-timeout", 0, "Per-response read timeout")
	f.BoolVar(&opts.jsonOutput, "json", false, "Write a JSON report")
	f.StringVarP(&opts.outputPath, "output", "o", "", "Write the report to a file")
	f.BoolVar(&opts.allRuns, "all-runs", false, "List passed runs in the JSON report too")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

// loadRunConfig reads the configuration file, if any, and applies the flags
// the user set on top of it.
func loadRunConfig(cmd *cobra.Command, opts *runOptions, args []string) (*config.RunConfig, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		loaded, err := config.LoadConfig(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Target.Address = opts.target
	}
	if f.Changed("tls") {
		cfg.Target.TLS = opts.tls
	}
	if f.Changed("insecure") {
		cfg.Target.InsecureSkipVerify = opts.insecure
	}
	if f.Changed("server-name") {
		cfg.Target.ServerName = opts.serverName
	}
	if f.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if f.Changed("iterations") {
		cfg.Iterations = opts.iterations
	}
	if f.Changed("rate") {
		cfg.Rate = opts.rate
	}
	if f.Changed("connection") {
		cfg.Connection = opts.connection
	}
	if f.Changed("script") {
		cfg.Scripts = append(cfg.Scripts, opts.scripts...)
	}
	if f.Changed("fail-fast") {
		cfg.FailFast = opts.failFast
	}
	if f.Changed("sequential") {
		cfg.Sequential = opts.sequential
	}
	if f.Changed("no-tag") {
		tag := !opts.noTag
		cfg.TagRequests = &tag
	}
	if f.Changed("small") {
		cfg.BodySizes.Small = opts.small
	}
	if f.Changed("big") {
		cfg.BodySizes.Big = opts.big
	}
	if f.Changed("read-timeout") {
		cfg.Timeouts.Read = config.Duration(opts.readTimeout)
	}
	if len(args) > 0 {
		cfg.Scenarios = args
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRegistry returns the built-in scenarios plus those of the given files.
// Files are loaded into a copy so the shared built-in table stays untouched.
func newRegistry(files []string) (*script.Registry, error) {
	if len(files) == 0 {
		return script.Default(), nil
	}
	registry := script.Default().Clone()
	if err := registry.LoadFiles(files...); err != nil {
		return nil, err
	}
	return registry, nil
}

// newDriver builds the request builder and driver for a configuration.
func newDriver(cfg *config.RunConfig, logger *zap.Logger) *pipeline.Driver {
	host := cfg.Target.Address
	if cfg.Target.ServerName != "" {
		host = cfg.Target.ServerName
	}
	builder := phttp.NewBuilder(phttp.WithBodySizes(cfg.Sizes()), phttp.WithHost(host))
	return pipeline.NewDriver(builder, cfg.DriverConfig(), pipeline.WithLogger(logger))
}

// runStress executes the configured scenarios and reports them. It fails
// when any scenario did not pass.
func runStress(ctx context.Context, cfg *config.RunConfig, opts *runOptions, verbose bool, stdout io.Writer, logger *zap.Logger) error {
	registry, err := newRegistry(cfg.Scripts)
	if err != nil {
		return err
	}

	names := cfg.Scenarios
	if len(names) == 0 {
		names = registry.Names()
	}

	driver := newDriver(cfg, logger)
	ep := cfg.Endpoint()
	orchestrator := stress.New(registry, driver, validate.New(driver.Builder().Sizes()), ep,
		stress.WithLogger(logger),
		stress.WithOptions(stress.Options{
			FailFast:   cfg.FailFast,
			Rate:       cfg.Rate,
			Sequential: cfg.Sequential,
		}),
	)

	results, execErr := orchestrator.Execute(ctx, names, cfg.Concurrency, cfg.Iterations)
	if results == nil {
		return execErr
	}

	w := stdout
	if opts.outputPath != "" {
		file, err := os.Create(opts.outputPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		w = file
	}

	var reporter output.Reporter
	if opts.jsonOutput {
		reporter = output.NewJSONReporter(w, opts.allRuns || verbose)
	} else {
		reporter = output.NewConsoleReporter(output.ConsoleConfig{
			Writer:  w,
			Verbose: verbose,
			NoColor: opts.noColor || opts.outputPath != "",
		})
	}
	if err := reporter.Report(ep.String(), results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if opts.outputPath != "" {
		fmt.Fprintf(stdout, "Report written to %s\n", opts.outputPath)
	}

	if execErr != nil {
		return fmt.Errorf("run interrupted: %w", execErr)
	}

	failed := 0
	for _, r := range results {
		if !r.Passed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios did not pass", failed, len(results))
	}
	return nil
}
