package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/G1D0/webfront/internal/config"
	"github.com/G1D0/webfront/internal/middleware"
	"github.com/G1D0/webfront/internal/observe"
	"github.com/G1D0/webfront/internal/server"
	"github.com/G1D0/webfront/internal/web"
)

var (
	envFlag  string
	addrFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server. The operating mode (development or production)
selects the log format, the default log level and template auto-reload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := config.NewViper(cfgFile)
		if cmd.Flags().Changed("env") {
			v.Set("env", envFlag)
		}
		if cmd.Flags().Changed("addr") {
			v.Set("server.addr", addrFlag)
		}

		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return run(ctx, cfg, v.ConfigFileUsed())
	},
}

func init() {
	serveCmd.Flags().StringVar(&envFlag, "env", "", "operating mode: development or production")
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default :5000)")
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context, cfg config.Config, configFile string) error {
	loggers := observe.NewLoggers(observe.Options{
		Format: logFormat(cfg.Mode),
		Level:  cfg.LogLevel,
		Writer: os.Stdout,
	})
	logger := loggers.App
	slog.SetDefault(logger)

	if cfg.InsecureSecret() {
		logger.Warn("running in production with the default secret key; set WEBFRONT_SECRET_KEY")
	}
	logger.Debug("configuration loaded",
		"env", cfg.Mode.String(),
		"log_level", cfg.LogLevel.String(),
		"templates_auto_reload", cfg.TemplatesAutoReload,
		"config_file", configFile,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, err := buildHandler(cfg, logger, reg)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		DrainTimeout:      cfg.Server.DrainTimeout,
		Logger:            loggers.Server,
	})
	return srv.ListenAndServe(ctx)
}

// buildHandler assembles lifecycle -> recover -> router.
func buildHandler(cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (http.Handler, error) {
	renderer, err := web.NewRenderer(cfg.TemplatesDir, cfg.TemplatesAutoReload)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	metrics := observe.NewMetrics(reg)
	errs := middleware.NewErrorInterceptor(logger, metrics)
	router := web.NewRouter(web.Options{
		Env:      cfg.Mode.String(),
		Renderer: renderer,
		Errors:   errs,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: reg,
	})

	return middleware.Chain(
		middleware.Lifecycle(logger),
		errs.Recover(),
	)(router), nil
}

func logFormat(mode config.Mode) observe.Format {
	if mode.IsDevelopment() {
		return observe.FormatText
	}
	return observe.FormatJSON
}
