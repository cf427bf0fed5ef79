// Command replica runs one node of a replicated records service: it serves
// the records HTTP API on a local database and announces every committed
// write to its siblings over the notification channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
	"github.com/dmitrymomot/replicast/pkg/channel"
	"github.com/dmitrymomot/replicast/pkg/httpserver"
	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
	"github.com/dmitrymomot/replicast/pkg/outbox"
	"github.com/dmitrymomot/replicast/pkg/requestid"
	"github.com/dmitrymomot/replicast/pkg/storage"
	"github.com/dmitrymomot/replicast/svc/records"
)

var errUnknownMode = errors.New("unknown replication mode")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "replica: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(settings.App)
	logger.SetAsDefault(log)

	if err := run(ctx, settings, log); err != nil {
		log.Error("replica stopped", logger.Error(err), slog.Bool("fatal", storage.IsFatal(err)))
		stop()
		os.Exit(1)
	}
	log.Info("replica stopped")
}

func newLogger(app appConfig) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithLevelName(app.LogLevel),
		logger.WithAttr(logger.Replica(app.ReplicaID)),
		logger.WithContextExtractors(requestid.Extractor()),
	)
}

// run wires the node and blocks until ctx is done or a component fails. The
// storage connection is the only hard dependency: when it cannot be
// established run returns the *storage.FatalError before anything listens.
func run(ctx context.Context, s appSettings, log *slog.Logger) error {
	codec, err := operation.CodecByName(s.App.Codec)
	if err != nil {
		return err
	}
	if s.App.ReplicationMode != modeDirect && s.App.ReplicationMode != modeOutbox {
		return fmt.Errorf("%w: %q", errUnknownMode, s.App.ReplicationMode)
	}

	gw, err := storage.Connect(ctx, s.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Error("failed to close storage", logger.Error(err))
		}
	}()

	// A missing channel is not fatal: writes still commit locally, announces
	// fail with DependencyMissing semantics and the dialer keeps trying.
	dialer := channel.NewDialer(s.Channel, channel.WithLogger(log))
	if _, err := dialer.Connect(ctx); err != nil {
		log.Error("notification channel unavailable, writes will not be announced until it connects", logger.Error(err))
	}
	// Close logs its own failure.
	defer func() { _ = dialer.Close() }()

	bc := broadcast.New(dialer,
		broadcast.WithCodec(codec),
		broadcast.WithLogger(log),
		broadcast.WithOrigin(s.App.ReplicaID),
		broadcast.WithPublishTimeout(s.App.PublishTimeout),
	)

	g, ctx := errgroup.WithContext(ctx)

	var replicator records.Replicator
	switch s.App.ReplicationMode {
	case modeOutbox:
		store := outbox.NewStore(gw, s.Outbox.MaxAttempts)
		dispatcher, err := outbox.NewDispatcher(store, bc,
			outbox.WithConfig(s.Outbox),
			outbox.WithLogger(log),
		)
		if err != nil {
			return err
		}
		replicator = records.NewOutbox(store, "")
		g.Go(dispatcher.Run(ctx))
	default:
		replicator = records.NewDirect(bc, records.WithRetry(s.App.PublishRetries, broadcast.DefaultBackoff()))
	}

	recordsSvc := records.NewService(gw, replicator,
		records.WithOrigin(s.App.ReplicaID),
		records.WithLogger(log),
	)

	checks := []httpserver.Check{
		{Name: "storage", Fn: gw.Healthcheck()},
		{Name: "channel", Fn: dialer.Healthcheck()},
	}

	srv := httpserver.NewFromConfig(s.HTTP, httpserver.WithLogger(log))
	g.Go(func() error {
		return srv.Run(ctx, newRouter(log, s.HTTP, recordsSvc, checks))
	})
	g.Go(func() error { return gw.Run(ctx) })

	g.Go(func() error { return dialer.Run(ctx) })

	if s.App.ReceivePeers {
		receiver := bc.NewReceiver(dialer, broadcast.LogHandler(log))
		g.Go(func() error {
			handle, err := dialer.Wait(ctx)
			if err != nil {
				return nil
			}
			err = receiver.Run(ctx)
			if errors.Is(err, channel.ErrSubscribeUnsupported) {
				log.Info("driver does not deliver peer announces in-process", logger.Driver(handle.Driver()))
				return nil
			}
			if err != nil {
				// Losing peer announces never takes the node down.
				log.Error("receiver stopped", logger.Error(err))
			}
			return nil
		})
	}

	log.InfoContext(ctx, "replica started",
		slog.String("mode", s.App.ReplicationMode),
		slog.String("codec", codec.Name()),
		slog.String("addr", s.HTTP.Addr),
	)
	return g.Wait()
}

func newRouter(log *slog.Logger, cfg httpserver.Config, svc *records.Service, checks []httpserver.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Route("/health", httpserver.HealthRoutes(log, cfg.HealthTimeout, checks...))
	r.Mount("/records", records.NewHandler(svc, log).Handle())
	return r
}
