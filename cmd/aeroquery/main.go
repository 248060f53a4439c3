// Command aeroquery inspects how queries are planned against an Aerospike
// cluster and runs them.
//
// Logging:
//   - Base logger is created here with a ComponentFilterHandler
//   - Logger is passed to all components via dependency injection
//   - --debug-component lowers the level of single components
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"aeroquery/internal/config"
	"aeroquery/internal/logging"
	"aeroquery/internal/metrics"
	"aeroquery/internal/template"
	"aeroquery/internal/transport"
	"aeroquery/internal/transport/aerospike"
)

var version = "dev"

// dialFunc opens the transport for a validated configuration.
type dialFunc func(cfg config.Config, logger *slog.Logger) (transport.Client, error)

func dialAerospike(cfg config.Config, logger *slog.Logger) (transport.Client, error) {
	seeds, err := cfg.SeedHosts()
	if err != nil {
		return nil, err
	}
	hosts := make([]aerospike.Host, len(seeds))
	for i, h := range seeds {
		hosts[i] = aerospike.Host{Name: h.Name, Port: h.Port}
	}
	return aerospike.Dial(aerospike.Config{
		Hosts:    hosts,
		User:     cfg.User,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
		Logger:   logger,
	})
}

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // filtering done by ComponentFilterHandler
	})
	filter := logging.NewComponentFilterHandler(baseHandler, slog.LevelWarn)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root, closeApp := newRootCmd(os.Stdout, filter, dialAerospike)
	err := root.ExecuteContext(ctx)
	// Post-run hooks do not run for a failed command.
	if cerr := closeApp(); cerr != nil {
		slog.New(filter).Warn("close", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// app is the state shared by subcommands once the root pre-run connected.
type app struct {
	out    io.Writer
	filter *logging.ComponentFilterHandler
	logger *slog.Logger
	dial   dialFunc

	cfg      config.Config
	tmpl     *template.Template
	registry *prometheus.Registry
	metrics  *http.Server
}

// newRootCmd builds the command tree. The returned func releases whatever
// the pre-run connected and must be called once Execute returns.
func newRootCmd(out io.Writer, filter *logging.ComponentFilterHandler, dial dialFunc) (*cobra.Command, func() error) {
	a := &app{out: out, filter: filter, logger: slog.New(filter), dial: dial}

	root := &cobra.Command{
		Use:               "aeroquery",
		Short:             "Plan and run secondary index queries against Aerospike",
		SilenceUsage:      true,
		PersistentPreRunE: a.connect,
	}
	root.PersistentFlags().String("config", "", "YAML config file (default: <user config dir>/aeroquery/config.yaml when present)")
	root.PersistentFlags().StringSlice("host", nil, "seed host[:port], repeatable (overrides config)")
	root.PersistentFlags().String("namespace", "", "namespace (overrides config)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringSlice("debug-component", nil, "components logged at debug level, e.g. statement-builder")
	root.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	root.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No cluster connection needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(out, version)
		},
	}

	root.AddCommand(
		newIndexesCmd(a),
		newServerVersionCmd(a),
		newExplainCmd(a),
		newQueryCmd(a),
		newGetCmd(a),
		versionCmd,
	)
	return root, a.close
}

func (a *app) printer(cmd *cobra.Command) *printer {
	format, _ := cmd.Flags().GetString("output")
	return &printer{format: format, w: a.out}
}

func (a *app) connect(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	level, _ := flags.GetString("log-level")
	a.filter.SetDefaultLevel(logging.ParseLevel(level))
	debug, _ := flags.GetStringSlice("debug-component")
	for _, c := range debug {
		a.filter.SetLevel(strings.TrimSpace(c), slog.LevelDebug)
	}

	path, _ := flags.GetString("config")
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if hosts, _ := flags.GetStringSlice("host"); len(hosts) > 0 {
		cfg.Hosts = hosts
	}
	if ns, _ := flags.GetString("namespace"); ns != "" {
		cfg.Namespace = ns
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.registry = prometheus.NewRegistry()
	m := metrics.New(a.registry)
	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		a.serveMetrics(addr)
	}

	client, err := a.dial(cfg, a.logger)
	if err != nil {
		return err
	}
	tmpl, err := template.New(cmd.Context(), template.Config{
		Client:                 client,
		Namespace:              cfg.Namespace,
		IndexRefreshInterval:   cfg.IndexRefreshInterval,
		VersionRefreshInterval: cfg.VersionRefreshInterval,
		FetchCardinality:       cfg.FetchCardinality,
		BatchSize:              cfg.Batch.Size,
		BatchConcurrency:       cfg.Batch.Concurrency,
		BatchRate:              cfg.Batch.Rate,
		Logger:                 a.logger,
		Metrics:                m,
	})
	if err != nil {
		_ = client.Close()
		return err
	}
	a.tmpl = tmpl
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	a.metrics = srv
	go func() {
		a.logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()
}

// close is safe to call more than once and before connect.
func (a *app) close() error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
		a.metrics = nil
	}
	if a.tmpl != nil {
		errs = append(errs, a.tmpl.Close())
		a.tmpl = nil
	}
	return errors.Join(errs...)
}
