/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, the ledger
 * store, the payment processor and group-service clients, message brokers, the core
 * application service, the reconciliation scheduler, and the HTTP server. It wires
 * everything together and runs them until the process is signalled to stop.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads a local .env into the process environment.
 * - github.com/redis/go-redis/v9: Backs the per-member rate limiter.
 * - golang.org/x/sync/errgroup: Runs the server, scheduler and consumer together.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/processor, pkg/groupclient, pkg/rabbitmq: Outbound clients.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stokvel/wallet-service/internal/api"
	"github.com/stokvel/wallet-service/internal/app"
	"github.com/stokvel/wallet-service/internal/config"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/groupclient"
	"github.com/stokvel/wallet-service/pkg/processor"
	rmrabbit "github.com/stokvel/wallet-service/pkg/rabbitmq"
	"golang.org/x/sync/errgroup"
)

const settlementPrefetch = 10

func main() {
	if err := run(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"service stopped with error\" err=%v", err)
	}
	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// run owns every resource it opens, so an error returned from any point still
// closes what was opened before it.
func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file loaded; using process environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		return errors.New("INTERNAL_API_KEY must be configured")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("JWT_SECRET must be configured")
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize the RabbitMQ producer to publish ledger events.
	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	defer producer.Close()

	// The settlement consumer is optional, but a configured broker that cannot be
	// reached stops startup before any listener is running.
	var rabbitConsumer *rmrabbit.Consumer
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; settlement consumer disabled\" env=RABBITMQ_URL")
	} else {
		rabbitConsumer, err = rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer: %w", err)
		}
		defer rabbitConsumer.Close()
	}

	var rateLimiter app.RateLimiter
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	var gateway processor.Gateway
	if cfg.ProcessorBaseURL == "" {
		gateway = processor.NewSandbox()
	} else {
		gateway = processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)
	}

	if strings.TrimSpace(cfg.GroupServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"group-service url not configured; contributions will fail\" env=GROUP_SERVICE_URL")
	}
	groups := groupclient.NewClient(cfg.GroupServiceURL, cfg.GroupServiceInternalAPIKey)

	// Initialize the core application service with its dependencies.
	walletService := app.NewService(
		repository,
		gateway,
		groups,
		app.NewEventPublisher(producer, cfg.EventsExchange),
		app.Options{
			Currency:         cfg.DefaultCurrency,
			Deposit:          app.AmountLimits{Min: cfg.MinDepositCents, Max: cfg.MaxDepositCents, Daily: cfg.DailyDepositLimitCents},
			Withdraw:         app.AmountLimits{Min: cfg.MinWithdrawalCents, Max: cfg.MaxWithdrawalCents},
			Transfer:         app.AmountLimits{Min: cfg.MinTransferCents, Max: cfg.MaxTransferCents, Daily: cfg.DailyTransferLimitCents},
			ProcessorTimeout: time.Duration(cfg.ProcessorTimeoutSeconds) * time.Second,
		},
	)

	reconciler := app.NewReconciler(repository, walletService.Ledger, gateway, app.ReconcileOptions{
		MinAge:    time.Duration(cfg.ReconcileMinAgeSeconds) * time.Second,
		AlertAge:  time.Duration(cfg.ReconcileAlertAgeHours) * time.Hour,
		BatchSize: cfg.ReconcileBatchSize,
	})
	var settlementConsumer *app.SettlementConsumer
	if rabbitConsumer != nil {
		settlementConsumer = app.NewSettlementConsumer(repository, walletService.Ledger)
	}
	scheduler := app.NewScheduler(reconciler, cfg.ReconcileSchedule, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	router := api.WalletRoutes(api.NewWalletHandlers(walletService, reconciler), api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		InternalAPIKey: cfg.InternalAPIKey,
		CORSOrigins:    cfg.CORSOrigins(),
		RateLimiter:    rateLimiter,
		MutationLimit:  cfg.MutationRateLimitPerMinute,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("level=info component=http msg=\"shutdown started\"")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	if settlementConsumer != nil {
		settlementBindings := map[string]rmrabbit.Handler{
			"processor.charge.*": settlementConsumer.HandleMessage,
			"processor.payout.*": settlementConsumer.HandleMessage,
		}
		g.Go(func() error {
			if err := rabbitConsumer.ConsumeWithBindings(gctx, cfg.EventsExchange, cfg.SettlementEventQueue, settlementPrefetch, settlementBindings); err != nil {
				return fmt.Errorf("settlement consumer: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// openStore connects the configured ledger store and returns its cleanup.
func openStore(ctx context.Context, cfg config.Config) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Println("level=warn component=bootstrap msg=\"using in-memory store; balances are lost on restart\"")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if err := store.RunMigrations(ctx, dbpool); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// connectRedis returns nil when Redis is not configured or unreachable, which
// leaves rate limiting disabled.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
