package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depscan/internal/server"
	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/observability"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr      string
		noMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lookup API over HTTP",
		Long: `Start an HTTP server holding one shared lookup table.

POST a package.json (or a list of names) to /api/submissions, read the
table from /api/state, or subscribe to /api/stream for live updates.
Prometheus metrics are exposed on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := c.openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			if addr == "" {
				addr = e.cfg.ListenAddr
			}

			var opts []server.Option
			if !noMetrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				hooks := observability.NewPrometheus(observability.WithRegistry(reg))
				observability.SetCacheHooks(hooks)
				observability.SetHTTPHooks(hooks)
				observability.SetLookupHooks(hooks)
				defer observability.Reset()
				opts = append(opts, server.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
			}

			hub := server.NewHub(c.Logger)
			orch := e.orchestrator(c.Logger, lookup.WithObserver(hub.Publish))
			opts = append(opts, server.WithLogger(c.Logger), server.WithBaseContext(ctx))
			srv := server.New(orch, hub, opts...)

			printSuccess("Listening on %s", StyleLink.Render("http://"+addr))
			printKeyValue("Registry", e.client.BaseURL())
			printKeyValue("Cache", e.cfg.Store)
			printKeyValue("Stream", "ws://"+addr+"/api/stream")
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return err
			}
			printInfo("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable the /metrics endpoint")
	return cmd
}
