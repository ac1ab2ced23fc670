package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/forPelevin/hlreel/internal/api"
	"github.com/forPelevin/hlreel/internal/jobs"
	"github.com/forPelevin/hlreel/internal/logging"
	"github.com/forPelevin/hlreel/internal/pipeline"
	"github.com/forPelevin/hlreel/internal/ports/adapters/sqlstore"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	cmd.Flags().String("addr", getenvDefault("HLREEL_ADDR", ":8080"), "Listen address")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process jobs queued in Redis by `hlreel serve`",
		Args:  cobra.NoArgs,
		RunE:  worker,
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API token signed with HLREEL_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			secret := os.Getenv("HLREEL_JWT_SECRET")
			if secret == "" {
				return errors.New("HLREEL_JWT_SECRET is required")
			}
			tok, err := api.IssueToken([]byte(secret), args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime, 0 for no expiry")
	return cmd
}

type services struct {
	cfg     pipeline.Config
	store   *sqlstore.Store
	engine  *pipeline.Engine
	workers int
}

func openServices(log zerolog.Logger) (*services, error) {
	cfg, err := engineConfig(log)
	if err != nil {
		return nil, err
	}
	cfg.MediaRoot = getenvDefault("HLREEL_MEDIA_ROOT", "media")
	workers, err := getenvInt("HLREEL_WORKERS", 2)
	if err != nil {
		return nil, err
	}

	store, err := pipeline.OpenStore(storeDSN(), log)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	engine, err := pipeline.New(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("config: %w", err)
	}
	return &services{cfg: cfg, store: store, engine: engine, workers: workers}, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	log := newLogger(false)

	svc, err := openServices(log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	retention, err := getenvDuration("HLREEL_RETENTION", 7*24*time.Hour)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dispatcher jobs.Dispatcher
	if redisAddr := os.Getenv("HLREEL_REDIS_ADDR"); redisAddr != "" {
		q := jobs.NewQueue(redisAddr, svc.cfg.JobTimeout, logging.WithComponent(log, "queue"))
		defer q.Close()
		dispatcher = q
		log.Info().Str("redis", redisAddr).Msg("jobs go to the redis queue; run `hlreel worker` to process them")
	} else {
		// nothing else runs jobs from this store, so anything unfinished is orphaned
		if _, err := svc.store.MarkInterrupted(ctx); err != nil {
			return err
		}
		pool := jobs.NewPool(svc.engine, svc.workers, 64, logging.WithComponent(log, "pool"))
		if err := pool.Start(ctx); err != nil {
			return err
		}
		defer pool.Stop()
		dispatcher = pool
	}

	janitor := jobs.NewJanitor(svc.store, svc.engine.Media(), retention,
		os.Getenv("HLREEL_JANITOR_SCHEDULE"), logging.WithComponent(log, "janitor"))
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer janitor.Stop()

	secret := os.Getenv("HLREEL_JWT_SECRET")
	if secret == "" {
		log.Warn().Msg("HLREEL_JWT_SECRET is not set, the API is unauthenticated")
	}
	srv := api.NewServer(api.ServerConfig{
		Addr:      addr,
		Store:     svc.store,
		Jobs:      dispatcher,
		JWTSecret: []byte(secret),
		Logger:    logging.WithComponent(log, "api"),
		StartTime: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func worker(_ *cobra.Command, _ []string) error {
	log := newLogger(false)
	redisAddr := os.Getenv("HLREEL_REDIS_ADDR")
	if redisAddr == "" {
		return errors.New("HLREEL_REDIS_ADDR is required")
	}

	svc, err := openServices(log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := jobs.NewWorker(redisAddr, svc.workers, svc.engine, logging.WithComponent(log, "worker"))
	return w.Run(ctx)
}
