// Command server runs the election-integrity core: token issuance, vote
// intake, the audit ledger, and the offline queue behind one HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ballotcore/internal/core"
	"ballotcore/internal/crypto/signer"
	"ballotcore/internal/election"
	ledgermodels "ballotcore/internal/ledger/models"
	"ballotcore/internal/ledger/publisher"
	ledgersvc "ballotcore/internal/ledger/service"
	ledgermemory "ballotcore/internal/ledger/store/memory"
	ledgerpg "ballotcore/internal/ledger/store/postgres"
	"ballotcore/internal/ledger/worker"
	"ballotcore/internal/offline/coordinator"
	offlinememory "ballotcore/internal/offline/store/memory"
	offlineredis "ballotcore/internal/offline/store/redis"
	"ballotcore/internal/platform/config"
	"ballotcore/internal/platform/httpserver"
	"ballotcore/internal/platform/logger"
	"ballotcore/internal/platform/metrics"
	"ballotcore/internal/platform/postgres"
	"ballotcore/internal/platform/redis"
	tokensvc "ballotcore/internal/token/service"
	tokenmemory "ballotcore/internal/token/store/memory"
	tokenpg "ballotcore/internal/token/store/postgres"
	httptransport "ballotcore/internal/transport/http"
	"ballotcore/internal/vote/anonymizer"
	votesvc "ballotcore/internal/vote/service"
	votememory "ballotcore/internal/vote/store/memory"
	votepg "ballotcore/internal/vote/store/postgres"
	"ballotcore/pkg/platform/middleware/auth"
	"ballotcore/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig, err := loadSigner(cfg, log)
	if err != nil {
		return err
	}

	deriver, err := anonymizer.NewDeriver([]byte(cfg.HandleSecret))
	if err != nil {
		return err
	}

	// Stores: Postgres when configured, in-memory for dev.
	var (
		runner      tx.Runner
		tokenStore  tokensvc.Store
		voteStore   votesvc.Store
		ledgerStore ledgersvc.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		runner = tx.NewSQLRunner(db)
		tokenStore = tokenpg.New(db)
		voteStore = votepg.New(db)
		ledgerStore = ledgerpg.New(db)
		log.Info("using postgres stores")
	} else {
		runner = tx.NewMemoryRunner()
		tokenStore = tokenmemory.New()
		voteStore = votememory.New()
		ledgerStore = ledgermemory.New()
		log.Warn("postgres not configured, using in-memory stores")
	}

	var offlineStore coordinator.Store
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		offlineStore = offlineredis.New(redisClient)
		log.Info("using redis offline queue")
	} else {
		offlineStore = offlinememory.New()
		log.Warn("redis not configured, offline queue is in-memory")
	}

	m := metrics.New()

	ledgerOpts := []ledgersvc.Option{ledgersvc.WithQuickDepth(cfg.QuickVerifyDepth)}
	var (
		sink    chan *ledgermodels.Entry
		auditPb *publisher.Publisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		auditPb, err = publisher.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return err
		}
		defer auditPb.Close()
		sink = make(chan *ledgermodels.Entry, 1024)
		ledgerOpts = append(ledgerOpts, ledgersvc.WithSink(sink))
		log.Info("streaming audit entries to kafka", "topic", cfg.Kafka.AuditTopic)
	}

	auditSvc := ledgersvc.NewService(ledgerStore, sig, runner, log, ledgerOpts...)

	// Election state comes from the enclosing platform; the in-process
	// directory is populated through its admin surface or seeding.
	elections := election.NewMemoryDirectory()

	tokens := tokensvc.NewService(tokenStore, sig, elections, auditSvc, runner, log)
	votes := votesvc.NewService(voteStore, tokens, deriver, sig, auditSvc, runner, log)
	offline := coordinator.New(offlineStore, log)

	c := core.New(tokens, votes, auditSvc, offline, m, log)
	handler := httptransport.NewHandler(c, sig, log)
	verifier := auth.NewVerifier([]byte(cfg.JWTVerificationKey), log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, verifier))

	g, ctx := errgroup.WithContext(ctx)

	if auditPb != nil {
		w := worker.NewWorker(auditPb, sink, log)
		g.Go(func() error {
			if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("starting ballotcore", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadSigner loads the configured RSA key or generates an ephemeral pair
// for development.
func loadSigner(cfg config.Config, log *slog.Logger) (*signer.Signer, error) {
	opts := []signer.Option{signer.WithMaxPayload(cfg.MaxSignPayloadBytes)}
	if cfg.SigningKeyPath != "" {
		return signer.LoadKey(cfg.SigningKeyPath, opts...)
	}
	log.Warn("no signing key configured, generating an ephemeral key pair")
	return signer.Generate(opts...)
}
