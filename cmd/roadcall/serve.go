package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"roadcall/internal/auth"
	"roadcall/internal/config"
	"roadcall/internal/db"
	"roadcall/internal/dispatch"
	httpx "roadcall/internal/http"
	"roadcall/internal/job"
	"roadcall/internal/logger"
	"roadcall/internal/notify"
	"roadcall/internal/payment"
	"roadcall/internal/provider"
	"roadcall/internal/store/memory"
	"roadcall/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the rebroadcast sweeper",
	RunE:  runServe,
}

type backends struct {
	jobs      job.Store
	providers provider.Directory
	presence  provider.PresenceWriter
	users     auth.Users
	gate      payment.Gate
}

func openBackends(cfg config.Config) (backends, error) {
	if cfg.Store == config.StoreMemory {
		mem := memory.New()
		mem.AutoApprove(cfg.DevApproveProviders...)
		return backends{jobs: mem, providers: mem, presence: mem, users: mem, gate: payment.Always{}}, nil
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return backends{}, err
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return backends{}, err
	}
	pr := &provider.Repo{DB: gdb}
	b := backends{
		jobs:      &job.Repo{DB: gdb},
		providers: pr,
		presence:  pr,
		users:     &auth.Repo{DB: gdb},
		gate:      payment.Always{},
	}
	if cfg.PaymentGate == config.GateTable {
		b.gate = &payment.TableGate{DB: gdb}
	}
	return b, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New("main")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	b, err := openBackends(cfg)
	if err != nil {
		return err
	}

	var sink notify.Notifier = notify.Log{Logger: logger.New("notify")}
	if cfg.MQTT.Broker != "" {
		mq, err := notify.NewMQTT(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			return err
		}
		defer mq.Close()
		sink = mq
	}
	offers := notify.NewAsync(sink, logger.New("notify"), 5*time.Second)

	metrics, err := dispatch.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	svc := dispatch.New(dispatch.Deps{
		Jobs:      b.jobs,
		Providers: b.providers,
		Gate:      b.gate,
		Offers:    offers,
		Metrics:   metrics,
		Config:    cfg.Tuning.Dispatch,
		Log:       logger.New("dispatch"),
	})

	sw := &sweeper.Worker{
		ID:          "sweeper-1",
		Jobs:        b.jobs,
		Coordinator: svc.Coordinator,
		Metrics:     metrics,
		Config:      cfg.Tuning.Sweeper,
		Log:         logger.New("sweeper"),
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpx.NewRouter(httpx.Deps{
			Config:   cfg,
			Dispatch: svc,
			Users:    b.users,
			Presence: b.presence,
			JWT:      auth.NewJWT(cfg.JWTSecret),
			Gatherer: prometheus.DefaultGatherer,
			Log:      logger.New("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Let in-flight offer notifications drain before the MQTT client closes.
	offers.Wait()
	log.Info().Msg("stopped")
	return err
}
