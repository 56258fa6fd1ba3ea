package di

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"CapitalDash/internal/domain/repository"
	"CapitalDash/internal/handler/api"
	internalrepo "CapitalDash/internal/repository"
	"CapitalDash/internal/service/cache"
	endpointmetrics "CapitalDash/internal/service/metrics"
	"CapitalDash/internal/service/ratelimit"
	"CapitalDash/internal/service/scheduler"
	"CapitalDash/internal/services/marketdata"
	"CapitalDash/internal/usecase"
	pkgcache "CapitalDash/pkg/cache"
	pkgch "CapitalDash/pkg/clickhouse"
	"CapitalDash/pkg/config"
	xhttp "CapitalDash/pkg/http"
	pkgkafka "CapitalDash/pkg/kafka"
	xlogger "CapitalDash/pkg/logger"
	"CapitalDash/pkg/metrics"
	"CapitalDash/pkg/server"
)

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the service logger. Error logs are aggregated onto
// the log topic when collection is on and Kafka is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*xlogger.Logger, func(), error) {
	l, err := xlogger.New(&xlogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(xlogger.String("instance", cfg.Instance))
	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&xlogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectInterval,
			Topic:        cfg.Log.CollectTopic,
			Publisher:    producer,
		})
	}
	return l, l.RemoveCollector, nil
}

func ProvideMetrics(cfg *config.Config, reg prometheus.Registerer) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(reg)
}

// ProvideSharedCache connects Redis when enabled. The result backs the stale
// tier of the TTL caches and the refresh lock; nil means in-process only.
func ProvideSharedCache(cfg *config.Config, l *xlogger.Logger) (pkgcache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisOwner(cfg.Instance),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("redis connected", xlogger.String("host", cfg.Redis.Host), xlogger.Int("port", cfg.Redis.Port))
	return rc, func() { _ = rc.Close() }, nil
}

func ProvideCaches(cfg *config.Config, shared pkgcache.Service, m repository.Metrics, l *xlogger.Logger) *cache.Caches {
	opts := func(ns string) []cache.Option {
		o := []cache.Option{cache.WithMetrics(m), cache.WithLogger(l)}
		if cfg.Cache.SingleFlight {
			o = append(o, cache.WithSingleFlight())
		}
		if shared != nil {
			o = append(o, cache.WithStore(shared, ns, cfg.Cache.StaleTTL))
		}
		return o
	}
	return &cache.Caches{
		Responses: cache.NewTTLCache(opts("responses")...),
		Series:    cache.NewTTLCache(opts("series")...),
	}
}

// ProvideHistoryStore opens the configured price store and creates its schema.
func ProvideHistoryStore(cfg *config.Config, l *xlogger.Logger) (repository.HistoryStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		store   repository.HistoryStore
		closers []func() error
	)
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		store = internalrepo.NewMemoryHistory()
	case config.StorageClickHouse:
		ch := cfg.Storage.ClickHouse
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(ch.Host),
			pkgch.WithPort(ch.Port),
			pkgch.WithDatabase(ch.Database),
			pkgch.WithCredentials(ch.User, ch.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(ch.UseHTTP),
			pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		chStore := internalrepo.NewClickHouseHistory(client.DB(), ch.Table)
		if err := client.InitSchema(ctx, chStore.Schema()); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("history schema: %w", err)
		}
		store = chStore
		closers = append(closers, client.Close)
	default:
		s, err := internalrepo.NewSQLiteHistory(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := s.Init(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("history schema: %w", err)
		}
		store = s
	}
	closers = append([]func() error{store.Close}, closers...)

	l.Info("history store ready", xlogger.String("backend", cfg.Storage.Backend))
	return store, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				l.Warn("history store close", xlogger.Error(err))
			}
		}
	}, nil
}

// ProvideEventPublisher publishes lifecycle events to Kafka, or drops them.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideHTTPClient shares one cookie jar across providers that need a
// session cookie before answering.
func ProvideHTTPClient(cfg *config.Config) (*xhttp.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = marketdata.DefaultUserAgent
	}
	return xhttp.NewClient(
		xhttp.WithTimeout(cfg.Upstream.Timeout),
		xhttp.WithCookieJar(jar),
		xhttp.WithUserAgent(ua),
	), nil
}

func ProvideSources(cfg *config.Config, client *xhttp.Client, m repository.Metrics, l *xlogger.Logger) usecase.Sources {
	base := func(provider string) *marketdata.HTTPServiceBase {
		return marketdata.NewHTTPServiceBase(provider, client, cfg.Upstream.Timeout, cfg.Upstream.Attempts, m,
			l.With(xlogger.String("provider", provider)))
	}
	yahoo := marketdata.NewYahooClient(base("yahoo"), marketdata.DefaultYahooEndpoints())
	return usecase.Sources{
		Series:       yahoo,
		Quotes:       yahoo,
		Sentiment:    marketdata.NewFearGreedClient(base("cnn"), cfg.Upstream.FearGreedURL),
		Valuation:    marketdata.NewForwardPEClient(base("macromicro"), cfg.Upstream.ForwardPEURL),
		Breadth:      marketdata.NewBarchartClient(base("barchart"), "", ""),
		Constituents: marketdata.NewConstituentsClient(base("constituents"), cfg.Upstream.ConstituentsURL),
	}
}

func ProvideETFCatalog(cfg *config.Config, client *xhttp.Client, m repository.Metrics, l *xlogger.Logger) *usecase.ETFCatalog {
	base := marketdata.NewHTTPServiceBase("etf_catalog", client, cfg.Upstream.Timeout, cfg.Upstream.Attempts, m, l)
	return usecase.NewETFCatalog(marketdata.NewETFCatalogClient(base, cfg.Upstream.ETFCatalogURL), usecase.DefaultETFCatalog(), l)
}

func ProvideMarketService(
	cfg *config.Config,
	src usecase.Sources,
	store repository.HistoryStore,
	caches *cache.Caches,
	catalog *usecase.ETFCatalog,
	pub repository.EventPublisher,
	m repository.Metrics,
	l *xlogger.Logger,
) *usecase.MarketService {
	return usecase.NewMarketService(src, store, caches, catalog, usecase.ServiceConfig{
		ResponseTTL:    cfg.Cache.ResponseTTL,
		RealtimeTTL:    cfg.Cache.RealtimeTTL,
		SeriesTTL:      cfg.Cache.SeriesTTL,
		QuoteTTL:       cfg.Cache.QuoteTTL,
		HistoryDays:    cfg.Refresh.HistoryDays,
		MaxConcurrency: cfg.Upstream.MaxConcurrency,
		Instance:       cfg.Instance,
	}, l, usecase.WithPublisher(pub), usecase.WithServiceMetrics(m))
}

func ProvideRefresher(
	cfg *config.Config,
	svc *usecase.MarketService,
	catalog *usecase.ETFCatalog,
	shared pkgcache.Service,
	m repository.Metrics,
	l *xlogger.Logger,
) (*scheduler.Refresher, error) {
	opts := []scheduler.Option{scheduler.WithMetrics(m)}
	if shared != nil {
		opts = append(opts, scheduler.WithLocker(shared))
	}
	return scheduler.New(scheduler.Config{
		Specs:         cfg.Refresh.Specs,
		Symbols:       cfg.Symbols,
		SymbolTimeout: cfg.Refresh.SymbolTimeout,
		LockTTL:       cfg.Refresh.LockTTL,
		RunOnStart:    cfg.Refresh.RunOnStart,
	}, svc, catalog, l, opts...)
}

// ProvideKafkaConsumer listens for peer events, or returns nil when
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, svc *usecase.MarketService, reg prometheus.Registerer, l *xlogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, 50*time.Millisecond, 2*time.Second),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(svc.PeerEvents(cfg.Kafka.Topic))
	return consumer, nil
}

func ProvideMarketHandler(
	cfg *config.Config,
	svc *usecase.MarketService,
	refresher *scheduler.Refresher,
	reg prometheus.Registerer,
	l *xlogger.Logger,
) *api.MarketHandler {
	opts := []api.HandlerOption{
		api.WithRateLimiter(ratelimit.New(cfg.Admin.RateBurst, cfg.Admin.RatePerMinute)),
		api.WithStreamConfig(api.StreamConfig{
			Interval:     cfg.Realtime.PushInterval,
			PingInterval: cfg.Realtime.PingInterval,
			WriteTimeout: cfg.Realtime.WriteTimeout,
			MaxSymbols:   cfg.Realtime.MaxSymbols,
			AllowOrigins: cfg.Server.AllowOrigins,
		}),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithEndpointMetrics(endpointmetrics.NewEndpoints(reg)))
	}
	return api.NewMarketHandler(svc, refresher, l, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.MarketHandler, reg *prometheus.Registry, l *xlogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		opts = append(opts, xhttp.WithCORS(cfg.Server.AllowOrigins))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, reg, cfg.Server.SlowRequest))
	}
	return xhttp.NewServer([]xhttp.Handler{h}, opts...)
}

func ProvideApp(
	cfg *config.Config,
	srv *xhttp.Server,
	refresher *scheduler.Refresher,
	catalog *usecase.ETFCatalog,
	consumer *pkgkafka.Consumer,
	l *xlogger.Logger,
) *server.App {
	return server.New(cfg, srv, refresher, catalog, consumer, l)
}
