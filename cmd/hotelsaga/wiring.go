package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/handlers/bookings"
	"hotelsaga/internal/app/inbound"
	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/queries"
	"hotelsaga/internal/app/saga"
	"hotelsaga/internal/app/uow"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/infra/broker"
	"hotelsaga/internal/infra/broker/kafka"
	"hotelsaga/internal/infra/broker/rabbitmq"
	redisstore "hotelsaga/internal/infra/cache/redis"
	"hotelsaga/internal/infra/config"
	mongostore "hotelsaga/internal/infra/db/mongo"
	"hotelsaga/internal/infra/db/postgres"
	ginserver "hotelsaga/internal/infra/http/gin"
	"hotelsaga/internal/infra/obs"
	"hotelsaga/internal/infra/outbox"
	"hotelsaga/internal/infra/storage/memory"
)

type application struct {
	handlers ginserver.Handlers
	relays   []*outbox.Relay
	consume  func(ctx context.Context) error
	checks   map[string]obs.Check

	closeOnce sync.Once
	closers   []func(ctx context.Context) error
}

func (a *application) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *application) close(logger *slog.Logger) {
	a.closeOnce.Do(func() {
		ctx := context.Background()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	})
}

type storage struct {
	factory     uow.UoWFactory
	dispatch    domainsaga.DispatchStore
	idempotency middleware.IdempotencyStore
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (app *application, err error) {
	app = &application{checks: map[string]obs.Check{}}
	defer func() {
		if err != nil {
			app.close(logger)
		}
	}()

	st, err := openStorage(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	helper, err := saga.NewHelper(st.factory, saga.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	adapter, err := inbound.NewAdapter(saga.Steps(helper), inbound.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	producer, err := openTransport(cfg, app, adapter, logger)
	if err != nil {
		return nil, err
	}
	for i := range cfg.RelayWorkers {
		app.relays = append(app.relays, &outbox.Relay{
			Store:        st.dispatch,
			Producer:     producer,
			Interval:     cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			ClaimTimeout: cfg.OutboxClaimTimeout,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			TopicPrefix:  cfg.TopicPrefix,
			ID:           fmt.Sprintf("relay-%d", i),
			Backoff:      cfg.RetryBackoff,
			Logger:       logger.With("relay", i),
		})
	}

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	bookings.Register(cmdBus, queryBus, bookings.Deps{
		UoWFactory: st.factory,
		Saga:       helper,
		Dispatcher: adapter,
		Dispatch:   st.dispatch,
	})
	logger.Info("handlers registered", "commands", cmdBus.Keys(), "queries", queryBus.Keys())
	validator := middleware.OzzoValidator{}
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Logging(logger),
		middleware.Validation(validator),
		middleware.Idempotency(st.idempotency, nil),
		middleware.Transaction(st.factory, nil),
	)
	qs := middleware.ChainQueries(queryBus, middleware.QueryValidation(validator))
	app.handlers = ginserver.Handlers{
		Saga:   ginserver.SagaHandler{Commands: cmds, Queries: qs},
		Outbox: ginserver.OutboxHandler{Commands: cmds, Queries: qs},
	}
	return app, nil
}

func openStorage(ctx context.Context, cfg config.Config, app *application) (storage, error) {
	var (
		st  storage
		mc  *mongostore.Client
		err error
	)
	if cfg.StoreDriver == config.StoreMongo || cfg.IdempotencyBackend == config.StoreMongo {
		if mc, err = mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
			return st, fmt.Errorf("connect mongo: %w", err)
		}
		app.onClose(mc.Close)
		if err := mc.EnsureIndexes(ctx); err != nil {
			return st, err
		}
		app.checks["mongo"] = mc.Ping
	}

	switch cfg.StoreDriver {
	case config.StoreMongo:
		st.factory = mongostore.NewFactory(mc.DB)
		st.dispatch = mongostore.NewOutboxRepository(mc.DB)
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return st, fmt.Errorf("connect postgres: %w", err)
		}
		app.onClose(func(context.Context) error { pool.Close(); return nil })
		app.checks["postgres"] = pool.Ping
		if err := postgres.Migrate(ctx, pool); err != nil {
			return st, fmt.Errorf("migrate postgres: %w", err)
		}
		st.factory = postgres.Factory{Pool: pool}
		st.dispatch = postgres.NewDispatchStore(pool)
	default:
		store := memory.NewStore()
		st.factory = store
		st.dispatch = store
	}

	switch cfg.IdempotencyBackend {
	case config.StoreMongo:
		st.idempotency = mongostore.NewIdempotencyStore(mc.DB, cfg.IdempotencyTTL)
	case config.IdempotencyRedis:
		rc := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword)
		app.onClose(func(context.Context) error { return rc.Close() })
		app.checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		st.idempotency = redisstore.NewIdempotencyStore(rc, cfg.IdempotencyTTL)
	default:
		st.idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
	}
	return st, nil
}

// openTransport connects the relay producer and the reply consumer.
func openTransport(cfg config.Config, app *application, handler broker.Handler, logger *slog.Logger) (outbox.Producer, error) {
	processor := &broker.Processor{
		Handler:     handler,
		TopicPrefix: cfg.TopicPrefix,
		Attempts:    uint(cfg.ConsumerRetryAttempts),
		Logger:      logger,
	}
	topics := broker.ReplyTopics(cfg.TopicPrefix)

	switch cfg.Transport {
	case config.TransportRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return pub.Close() })
		processor.DeadLetter = pub
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQQueue, topics, cfg.OutboxBatchSize, processor, logger)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return consumer.Close() })
		app.consume = consumer.Run
		return pub, nil
	default:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.onClose(func(context.Context) error { return producer.Close() })
		processor.DeadLetter = producer
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, processor, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumer.WithRestartBackoff(cfg.RetryBackoff[0], cfg.RetryBackoff[len(cfg.RetryBackoff)-1])
		app.onClose(func(context.Context) error { return consumer.Close() })
		app.consume = func(ctx context.Context) error { return consumer.Run(ctx, topics) }
		return producer, nil
	}
}
