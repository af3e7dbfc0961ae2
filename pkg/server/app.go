package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/internal/service/events"
	"QuotePulse/internal/service/monitor"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/internal/service/schedule"
	"QuotePulse/internal/source"
	"QuotePulse/internal/usecase"
	"QuotePulse/pkg/config"
	xhttp "QuotePulse/pkg/http"
	pkgkafka "QuotePulse/pkg/kafka"
	"QuotePulse/pkg/logger"
)

// App owns the pipeline's lifecycle: it starts every component in dependency
// order, blocks until a shutdown signal, and tears everything down in
// reverse.
type App struct {
	cfg *config.Config
	log *logger.Logger

	cache    *quotecache.Cache[models.ConsensusQuote]
	quotes   *usecase.QuoteService
	monitor  *monitor.Monitor
	events   *events.Service
	manager  *schedule.Manager
	stream   *source.Stream
	consumer *pkgkafka.Consumer
	ingest   pkgkafka.MessageHandler
	history  repository.HistoryStore
	pub      repository.Publisher
	server   *xhttp.Server
}

// New wires an App from already-constructed components. Optional pieces
// (stream, consumer, history) may be nil.
func New(
	cfg *config.Config,
	log *logger.Logger,
	cache *quotecache.Cache[models.ConsensusQuote],
	quotes *usecase.QuoteService,
	mon *monitor.Monitor,
	evts *events.Service,
	mgr *schedule.Manager,
	server *xhttp.Server,
) *App {
	return &App{
		cfg:     cfg,
		log:     log.Named("app"),
		cache:   cache,
		quotes:  quotes,
		monitor: mon,
		events:  evts,
		manager: mgr,
		server:  server,
	}
}

// SetStream attaches the websocket tape source so the app manages its
// connection lifecycle.
func (a *App) SetStream(s *source.Stream) { a.stream = s }

// SetConsumer attaches the inbound event consumer.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.ingest = h
}

// SetHistory attaches the durable history sink so the app can init its
// schema and close it.
func (a *App) SetHistory(h repository.HistoryStore) { a.history = h }

// SetPublisher attaches the downstream publisher for closing at shutdown.
func (a *App) SetPublisher(p repository.Publisher) { a.pub = p }

// Run starts the pipeline and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.history != nil {
		if err := a.history.Init(ctx); err != nil {
			a.log.Warn("history schema init failed", logger.Error(err))
		}
	}

	if a.stream != nil {
		if err := a.stream.Start(ctx); err != nil {
			a.log.Warn("stream source connect failed", logger.Error(err))
		}
	}

	if loaded := a.quotes.WarmStart(ctx); loaded > 0 {
		a.log.Info("cache warmed from mirror", logger.Int("entries", loaded))
	}

	a.cache.Start()
	a.events.Start(ctx)
	a.monitor.Start(ctx)
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	if a.consumer != nil && a.ingest != nil {
		a.consumer.RegisterHandler(a.ingest)
		a.consumer.Start(ctx)
	}

	if err := a.server.Start(); err != nil {
		return err
	}
	a.log.Info("pipeline started",
		logger.Strings("symbols", a.cfg.Symbols),
		logger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	a.log.Info("shutdown signal received")

	return a.shutdown(ctx)
}

// shutdown stops components in reverse start order. Inbound surfaces go
// first so nothing new arrives while the pipeline drains.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.log.Warn("http shutdown error", logger.Error(err))
	}

	if a.consumer != nil {
		a.consumer.Stop()
	}

	a.manager.Stop()
	a.monitor.Stop()
	a.events.Stop()
	a.cache.Stop()

	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			a.log.Warn("stream close error", logger.Error(err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("history close error", logger.Error(err))
		}
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Warn("publisher close error", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
