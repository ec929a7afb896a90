package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/couchauth/internal/adapter"
	"github.com/dropDatabas3/couchauth/internal/config"
	"github.com/dropDatabas3/couchauth/internal/metrics"
	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/reconcile"
	_ "github.com/dropDatabas3/couchauth/internal/store/adapters/dal"
)

type app struct {
	cfg *config.Config
	log *zap.Logger
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func main() {
	var (
		cfgPath = os.Getenv("CONFIG_PATH")
		envFile = ".env"
		a       app
	)

	root := &cobra.Command{
		Use:           "couchauth",
		Short:         "Operaciones sobre el store de sesiones de auth",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" && fileExists(envFile) {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("dotenv %s: %w", envFile, err)
				}
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			logger.Init(cfg.LoggerConfig())
			a.cfg = cfg
			a.log = logger.Named("couchauth")
			cmd.SetContext(logger.ToContext(cmd.Context(), a.log.With(logger.Op(cmd.Name()))))
			return a.serveMetrics(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta a config.yaml (env CONFIG_PATH; vacío = sólo env)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (si existe, se carga)")

	// provision: crea colecciones e índices. Un único caller, en el arranque.
	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Crea colecciones e índices faltantes",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.adapterOptions()
			opts.EnsureCollections = true
			opts.EnsureIndexes = true
			ad := adapter.New(opts)
			defer closeHandle(ad)
			if err := ad.Ready(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("provision completed", logger.Driver(a.cfg.Store.Driver))
			return nil
		},
	}

	// check: conexión + ping + setup de modelos, sin provisioning.
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verifica conexión y setup de modelos",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.adapterOptions()
			opts.EnsureCollections = false
			opts.EnsureIndexes = false
			ad := adapter.New(opts)
			defer closeHandle(ad)
			if err := ad.Ready(cmd.Context()); err != nil {
				return err
			}
			if err := ad.Handle().Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok driver=%s models=%v\n", a.cfg.Store.Driver, ad.Handle().ModelNames())
			return nil
		},
	}

	var fix bool
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Detecta (y con --fix repara) cuentas/sesiones huérfanas y resúmenes obsoletos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ad := adapter.New(a.adapterOptions())
			defer closeHandle(ad)
			rep, err := reconcile.Run(cmd.Context(), ad, reconcile.Options{Fix: fix})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "orphan accounts: %d\n", len(rep.OrphanAccounts))
			fmt.Fprintf(out, "orphan sessions: %d\n", len(rep.OrphanSessions))
			fmt.Fprintf(out, "stale summaries: %d\n", len(rep.StaleSummaries))
			if fix {
				fmt.Fprintf(out, "removed accounts=%d sessions=%d pruned users=%d\n",
					rep.RemovedAccounts, rep.RemovedSessions, rep.PrunedUsers)
			}
			return nil
		},
	}
	reconcileCmd.Flags().BoolVar(&fix, "fix", false, "borra huérfanos y poda resúmenes")

	root.AddCommand(provisionCmd, checkCmd, reconcileCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) adapterOptions() adapter.Options {
	opts := a.cfg.AdapterOptions()
	opts.Logger = a.log
	return opts
}

// serveMetrics expone /metrics mientras corre el comando.
func (a *app) serveMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", logger.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	a.log.Info("metrics listening", logger.String("addr", a.cfg.Metrics.Addr))
	return nil
}

func closeHandle(ad *adapter.Adapter) {
	if h := ad.Handle(); h != nil {
		_ = h.Close()
	}
}
