package di

import (
	"context"
	"fmt"
	"time"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/domain/repository"
	"QuotePulse/internal/handler/api"
	internalrepo "QuotePulse/internal/repository"
	"QuotePulse/internal/service/events"
	"QuotePulse/internal/service/monitor"
	"QuotePulse/internal/service/quotecache"
	"QuotePulse/internal/service/schedule"
	"QuotePulse/internal/source"
	"QuotePulse/internal/usecase"
	"QuotePulse/pkg/cache"
	pkgch "QuotePulse/pkg/clickhouse"
	"QuotePulse/pkg/config"
	xhttp "QuotePulse/pkg/http"
	pkgkafka "QuotePulse/pkg/kafka"
	"QuotePulse/pkg/logger"
	"QuotePulse/pkg/metrics"
	"QuotePulse/pkg/server"
)

// ProvideLogger creates the root structured logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// sourceSet bundles the constructed quote sources with the streaming source,
// which needs lifecycle management by the app.
type sourceSet struct {
	sources []repository.Source
	stream  *source.Stream
}

// ProvideSources builds the configured quote sources.
func ProvideSources(cfg *config.Config, log *logger.Logger) *sourceSet {
	set := &sourceSet{}

	if cfg.Sources.Fixture.Enabled {
		set.sources = append(set.sources,
			source.NewFixture("fixture", cfg.Sources.Fixture.Confidence, nil))
	}
	if cfg.Sources.Yahoo.Enabled {
		set.sources = append(set.sources, source.NewYahoo(cfg.Sources.Yahoo.Confidence))
	}
	for _, rs := range cfg.Sources.REST {
		set.sources = append(set.sources,
			source.NewREST(rs.Name, rs.URL, rs.Confidence, cfg.Sources.FetchTimeout))
	}
	if cfg.Sources.Stream.Enabled && cfg.Sources.Stream.URL != "" {
		set.stream = source.NewStream(source.StreamConfig{
			URL:            cfg.Sources.Stream.URL,
			APIKey:         cfg.Sources.Stream.APIKey,
			Symbols:        cfg.Symbols,
			Confidence:     cfg.Sources.Stream.Confidence,
			ReconnectDelay: cfg.Sources.Stream.ReconnectDelay,
			PingInterval:   cfg.Sources.Stream.PingInterval,
			MaxTickAge:     cfg.Sources.Stream.MaxTickAge,
		}, log)
		set.sources = append(set.sources, set.stream)
	}
	return set
}

// ProvideAggregator creates the multi-source quote aggregator.
func ProvideAggregator(cfg *config.Config, set *sourceSet, log *logger.Logger, m repository.Metrics) *usecase.Aggregator {
	return usecase.NewAggregator(set.sources, cfg.Sources.FetchTimeout, cfg.Sources.CanarySymbol, log, m)
}

// ProvideCalendar builds the trading-hours calendar.
func ProvideCalendar(cfg *config.Config) (*schedule.Calendar, error) {
	cal, err := schedule.NewCalendar(cfg.Schedule.Timezone, cfg.Schedule.OpenTime, cfg.Schedule.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return cal, nil
}

// ProvideCache creates the adaptive quote cache.
func ProvideCache(cfg *config.Config, cal *schedule.Calendar, log *logger.Logger, m repository.Metrics) *quotecache.Cache[models.ConsensusQuote] {
	return quotecache.New(
		quotecache.WithCapacity[models.ConsensusQuote](cfg.Cache.Capacity),
		quotecache.WithBaseTTL[models.ConsensusQuote](cfg.Cache.BaseTTL),
		quotecache.WithTTLBounds[models.ConsensusQuote](cfg.Cache.MinTTL, cfg.Cache.MaxTTL),
		quotecache.WithStalenessThreshold[models.ConsensusQuote](cfg.Cache.StalenessThreshold),
		quotecache.WithCleanupInterval[models.ConsensusQuote](cfg.Cache.CleanupInterval),
		quotecache.WithMarketHours[models.ConsensusQuote](cal.IsOpen),
		quotecache.WithLogger[models.ConsensusQuote](log),
		quotecache.WithMetrics[models.ConsensusQuote](m),
	)
}

// ProvideMirror creates the Redis mirror when enabled; nil otherwise.
func ProvideMirror(cfg *config.Config) (usecase.Mirror, error) {
	if !cfg.Cache.Mirror.Enabled {
		return nil, nil
	}
	store, err := cache.NewRedisStore(
		cache.WithAddr(cfg.Cache.Mirror.Addr),
		cache.WithPassword(cfg.Cache.Mirror.Password),
		cache.WithDB(cfg.Cache.Mirror.DB),
		cache.WithPrefix(cfg.Cache.Mirror.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("cache mirror: %w", err)
	}
	return store, nil
}

// ProvidePublisher creates the Kafka quote/alert publisher when enabled;
// nil otherwise.
func ProvidePublisher(cfg *config.Config) (repository.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.QuotesTopic, cfg.Kafka.AlertsTopic), nil
}

// ProvideHistory creates the ClickHouse history sink when enabled; nil
// otherwise.
func ProvideHistory(cfg *config.Config) (repository.HistoryStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.History.Host),
		pkgch.WithPort(cfg.History.Port),
		pkgch.WithDatabase(cfg.History.Database),
		pkgch.WithCredentials(cfg.History.User, cfg.History.Password),
		pkgch.WithAsyncInsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return internalrepo.NewClickHouseHistory(client, cfg.History.Table), nil
}

// ProvideQuoteService assembles the cache-fronted quote facade with its
// optional fan-out legs.
func ProvideQuoteService(
	cfg *config.Config,
	agg *usecase.Aggregator,
	qc *quotecache.Cache[models.ConsensusQuote],
	mirror usecase.Mirror,
	pub repository.Publisher,
	history repository.HistoryStore,
	log *logger.Logger,
) *usecase.QuoteService {
	opts := []usecase.QuoteServiceOption{
		usecase.WithUpdateStrategy(models.UpdateStrategy(cfg.Cache.UpdateStrategy)),
	}
	if len(cfg.Priorities) > 0 {
		prios := make(map[string]models.Priority, len(cfg.Priorities))
		for sym, p := range cfg.Priorities {
			prios[sym] = models.ParsePriority(p)
		}
		opts = append(opts, usecase.WithSymbolPriorities(prios))
	}
	if mirror != nil {
		opts = append(opts,
			usecase.WithMirror(mirror),
			usecase.WithMirrorTTL(cfg.Cache.Mirror.TTL))
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if history != nil {
		opts = append(opts, usecase.WithHistory(history))
	}
	return usecase.NewQuoteService(agg, qc, log, opts...)
}

// ProvideEventService creates the event-driven refresh service.
func ProvideEventService(cfg *config.Config, quotes *usecase.QuoteService, log *logger.Logger, m repository.Metrics) *events.Service {
	return events.New(events.Config{
		Symbols:            cfg.Symbols,
		DrainInterval:      cfg.Events.DrainInterval,
		BatchSize:          cfg.Events.BatchSize,
		RateLimitPerMinute: cfg.Events.RateLimitPerMinute,
		EnabledTypes:       cfg.Events.EnabledTypes,
		PriceChangePct:     cfg.Events.PriceChangePct,
		PriceChangeHighPct: cfg.Events.PriceChangeHighPct,
		VolumeSpikeRatio:   cfg.Events.VolumeSpikeRatio,
		VolumeWindow:       cfg.Events.VolumeWindow,
	}, quotes, log, m)
}

// ProvideManager creates the scheduled update manager.
func ProvideManager(
	cfg *config.Config,
	cal *schedule.Calendar,
	quotes *usecase.QuoteService,
	agg *usecase.Aggregator,
	evts *events.Service,
	log *logger.Logger,
) *schedule.Manager {
	return schedule.New(schedule.Config{
		Symbols:         cfg.Symbols,
		OpenInterval:    cfg.Schedule.OpenInterval,
		ClosedInterval:  cfg.Schedule.ClosedInterval,
		RecheckInterval: cfg.Schedule.RecheckInterval,
		HealthWarnRatio: cfg.Schedule.HealthWarnRatio,
	}, cal, quotes, agg.CheckSourceHealth, evts.Emit, log)
}

// ProvideMonitor creates the freshness and quality monitor.
func ProvideMonitor(
	cfg *config.Config,
	quotes *usecase.QuoteService,
	agg *usecase.Aggregator,
	evts *events.Service,
	log *logger.Logger,
	m repository.Metrics,
) *monitor.Monitor {
	return monitor.New(monitor.Config{
		Interval:               cfg.Monitor.Interval,
		FreshThreshold:         cfg.Monitor.FreshThreshold,
		AgingThreshold:         cfg.Monitor.AgingThreshold,
		StaleThreshold:         cfg.Monitor.StaleThreshold,
		CriticalThreshold:      cfg.Monitor.CriticalThreshold,
		AlertAgeThreshold:      cfg.Monitor.AlertAgeThreshold,
		MinConfidence:          cfg.Monitor.MinConfidence,
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		DedupWindow:            cfg.Monitor.DedupWindow,
		AckAfter:               cfg.Monitor.AckAfter,
		PurgeAfter:             cfg.Monitor.PurgeAfter,
		HistorySize:            cfg.Monitor.HistorySize,
	}, cfg.Symbols, quotes, evts, agg.CheckSourceHealth, log, m)
}

// ProvideHTTPServer creates the operational HTTP surface.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	quotes *usecase.QuoteService,
	mon *monitor.Monitor,
	evts *events.Service,
	mgr *schedule.Manager,
) *xhttp.Server {
	handler := api.NewOpsHandler(log, quotes, mon, evts, mgr, cfg.Symbols)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp assembles the application and wires the cross-component hooks
// that would otherwise be dependency cycles: the monitor feeds the quote
// service's result hook, the manager subscribes to market transitions, and
// system-alert remediation reaches back into the manager's cadence.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	set *sourceSet,
	qc *quotecache.Cache[models.ConsensusQuote],
	quotes *usecase.QuoteService,
	mon *monitor.Monitor,
	evts *events.Service,
	mgr *schedule.Manager,
	pub repository.Publisher,
	history repository.HistoryStore,
	srv *xhttp.Server,
) (*server.App, error) {
	quotes.SetResultHook(func(symbol string, ok bool) {
		if ok {
			mon.RecordUpdate(symbol)
		} else {
			mon.RecordFailure(symbol)
		}
	})
	mon.OnAlert(func(a models.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		quotes.PublishAlert(ctx, &a)
	})
	quotes.SetQuoteObserver(evts.ObserveQuote)
	evts.SetHealthCheck(quotes.CheckSourceHealth)
	evts.SetCadenceReducer(mgr.ReduceCadence)
	evts.Subscribe(models.EventMarketOpen, mgr.OnMarketEvent)
	evts.Subscribe(models.EventMarketClose, mgr.OnMarketEvent)

	app := server.New(cfg, log, qc, quotes, mon, evts, mgr, srv)
	if set.stream != nil {
		app.SetStream(set.stream)
	}
	if pub != nil {
		app.SetPublisher(pub)
	}
	if history != nil {
		app.SetHistory(history)
	}

	if cfg.Kafka.Enabled && cfg.Kafka.EventsTopic != "" {
		consumer, err := pkgkafka.NewConsumer(log,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		app.SetConsumer(consumer, internalrepo.NewEventIngestHandler(cfg.Kafka.EventsTopic, evts, log))
	}
	return app, nil
}
