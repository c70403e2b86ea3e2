package main

import (
	"context"
	"fmt"
	"log"

	"ledger-server/internal/domain/event"
	"ledger-server/internal/domain/gateway"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	rediscache "ledger-server/internal/infrastructure/cache/redis"
	"ledger-server/internal/infrastructure/config"
	gatewayinfra "ledger-server/internal/infrastructure/gateway"
	"ledger-server/internal/infrastructure/messaging/kafka"
	"ledger-server/internal/infrastructure/persistence/memory"
	"ledger-server/internal/infrastructure/persistence/mysql"
	"ledger-server/internal/presentation/rest"
)

// storeHandle 台帳ストアと後始末
type storeHandle struct {
	store       ledger.Store
	healthCheck rest.HealthCheckFunc
	close       func()
}

// newStore LEDGER_STORE に応じてストアを作成
func newStore(ctx context.Context, cfg *config.Config) (*storeHandle, error) {
	switch cfg.Ledger.Store {
	case config.StoreMySQL:
		db, err := mysql.NewDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := mysql.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return &storeHandle{
			store:       mysql.NewStore(db),
			healthCheck: db.HealthCheck,
			close: func() {
				if err := db.Close(); err != nil {
					log.Printf("Failed to close database: %v", err)
				}
			},
		}, nil
	default:
		s, err := memory.NewStore(memory.WithBalances(cfg.Ledger.SeedBalances))
		if err != nil {
			return nil, err
		}
		return &storeHandle{store: s, close: func() {}}, nil
	}
}

// dependencies 任意の外部依存
type dependencies struct {
	cache     ledger.StatusCache
	publisher event.Publisher
	closers   []func() error
}

func newDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{
		cache:     ledger.NopStatusCache{},
		publisher: event.NopPublisher{},
	}

	if cfg.Redis.Enabled {
		client, err := rediscache.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.cache = rediscache.NewStatusCache(client, cfg.Redis.StatusTTL)
		deps.closers = append(deps.closers, client.Close)
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(&cfg.Kafka)
		if err != nil {
			deps.close()
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		publisher := kafka.NewPublisher(producer, cfg.Kafka.Topic)
		deps.publisher = publisher
		deps.closers = append(deps.closers, publisher.Close)
	}

	return deps, nil
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Printf("Failed to close dependency: %v", err)
		}
	}
}

// newGateway 支払い方法ごとの擬似レールをサーキットブレーカー越しに束ねる
func newGateway(cfg *config.GatewayConfig) gateway.Gateway {
	cb := gatewayinfra.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
		OpenTimeout:      cfg.CircuitOpenTimeout,
	}

	routes := make(map[payment.MethodKind]gateway.Gateway, 2)
	for _, kind := range []payment.MethodKind{payment.MethodKindCard, payment.MethodKindWallet} {
		sim := gatewayinfra.NewSimulatedGateway(gatewayinfra.SimulatedConfig{
			Name:          kind.String(),
			Latency:       cfg.Latency,
			DeclineRate:   cfg.DeclineRate,
			TransientRate: cfg.TransientRate,
		})
		routes[kind] = gatewayinfra.NewCircuitBreakerGateway(sim, cb)
	}
	return gatewayinfra.NewRouter(routes)
}
