package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/immotopia/rental-finance-service/internal/api"
	"github.com/immotopia/rental-finance-service/internal/app"
	"github.com/immotopia/rental-finance-service/internal/config"
	"github.com/immotopia/rental-finance-service/internal/domain"
	"github.com/immotopia/rental-finance-service/internal/store"
	rmrabbit "github.com/immotopia/rental-finance-service/pkg/rabbitmq"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the outbox dispatcher and the settlement consumer",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		return errors.New("AUTH_JWT_SECRET must be configured")
	}
	if cfg.InternalAPIKey == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; internal routes are open\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting rental-finance-service\" port=%s", cfg.ServerPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbpool, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer dbpool.Close()

	repository := store.NewPostgresRepository(dbpool, cfg.EventExchange)
	service := newService(cfg, repository)

	redisClient := connectRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}
	var limiter api.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events stay in the outbox and settlements are not consumed\" env=RABBITMQ_URL")
	} else {
		dispatcher := app.NewOutboxDispatcher(repository, func() (app.EventPublisher, error) {
			producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
			if err != nil {
				return nil, err
			}
			return producer, nil
		}, cfg.OutboxBatchSize, cfg.OutboxPollInterval())
		go dispatcher.Run(ctx)
		log.Println("level=info component=bootstrap msg=\"outbox dispatcher started\"")

		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer init failed: %w", err)
		}
		defer rabbitConsumer.Close()

		settlement := app.NewSettlementConsumer(service)
		bindings := map[string]rmrabbit.Handler{
			domain.EventPaymentSettled: settlement.HandleSettled,
			domain.EventPaymentFailed:  settlement.HandleFailed,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.SettledPaymentQueue, bindings); err != nil {
			return fmt.Errorf("settlement consumer start failed: %w", err)
		}
	}

	router := api.NewRouter(api.NewHandler(service), api.RouterConfig{
		JWTSecret:                cfg.AuthJWTSecret,
		JWTIssuer:                cfg.AuthJWTIssuer,
		InternalAPIKey:           cfg.InternalAPIKey,
		Limiter:                  limiter,
		TenantRateLimitPerMinute: cfg.TenantRateLimitPerMinute,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	log.Println("level=info component=http msg=\"shutdown started\"")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
	return nil
}

// connectRedis returns a pinged client, or nil when rate limiting is disabled or Redis is
// unreachable.
func connectRedis(cfg config.Config) *redis.Client {
	if cfg.TenantRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; tenant rate limiting disabled\" env=REDIS_URL")
		return nil
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; tenant rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; tenant rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
