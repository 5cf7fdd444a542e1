package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/traits/config"
	"github.com/shiva/traits/internal/handler"
	"github.com/shiva/traits/internal/middleware"
	"github.com/shiva/traits/internal/queue"
	"github.com/shiva/traits/internal/repository"
	"github.com/shiva/traits/internal/repository/memory"
	"github.com/shiva/traits/internal/seed"
	"github.com/shiva/traits/internal/service"
	"github.com/shiva/traits/pkg/cache"
	"github.com/shiva/traits/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	var (
		pgPool      *pgxpool.Pool
		adminPool   *pgxpool.Pool
		redisClient *redis.Client
	)

	// ── Connect to Redis ────────────────────────────────
	// Needed for the station graph on the postgres backend and for the
	// shared search cache.
	if cfg.StorageBackend == config.StoragePostgres || cfg.Search.CacheBackend == config.CacheRedis {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✓ Redis connected")
	}

	// ── Connect to PostgreSQL ───────────────────────────
	if cfg.StorageBackend == config.StoragePostgres {
		pgPool, err = db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		defer pgPool.Close()
		log.Println("✓ PostgreSQL connected")

		adminPool, err = db.NewAdminPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL as admin: %v", err)
		}
		if adminPool != nil {
			defer adminPool.Close()
			log.Printf("✓ PostgreSQL admin pool connected as %s", cfg.Postgres.AdminUser)
		}

		schemaPool := pgPool
		if adminPool != nil {
			schemaPool = adminPool
		}
		if err := repository.EnsureSchema(ctx, schemaPool); err != nil {
			log.Fatalf("failed to apply schema: %v", err)
		}
		log.Println("✓ Schema ready")
	}

	// ── Ticket events ───────────────────────────────────
	var events service.EventPublisher = queue.LogPublisher{}
	if cfg.AMQP.URL != "" {
		pub, err := queue.NewPublisher(cfg.AMQP.URL, cfg.AMQP.TicketQueue)
		if err != nil {
			log.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer pub.Close()
		events = pub
		log.Printf("✓ RabbitMQ connected, publishing to %s", cfg.AMQP.TicketQueue)
	}

	// ── Initialize layers ───────────────────────────────
	opts := service.Options{
		Search: service.SearchConfig{
			MaxChanges:     cfg.Search.MaxChanges,
			HorizonDays:    cfg.Search.HorizonDays,
			MaxServiceDays: cfg.Search.MaxServiceDays,
			MaxResults:     cfg.Search.MaxResults,
			MaxLabels:      service.DefaultSearchConfig().MaxLabels,
		},
		Pricer: service.NewFarePricer(service.FareConfig{
			BaseFareCents:  cfg.Fare.BaseCents,
			PerMinuteCents: cfg.Fare.PerMinuteCents,
			PerKmCents:     cfg.Fare.PerKmCents,
		}),
		Cache:          newSearchCache(cfg.Search, redisClient),
		Events:         events,
		BookingTimeout: cfg.Booking.TxTimeout,
	}

	var traits, admin *service.Engine
	if cfg.StorageBackend == config.StorageMemory {
		store := memory.NewStore()
		traits = service.NewEngine(service.Stores{
			Topology:  memory.NewTopology(),
			Directory: store,
			Schedules: store,
			Tickets:   store,
		}, opts)
		admin = traits
		log.Println("✓ In-memory storage ready (state is lost on exit)")
	} else {
		topology := repository.NewTopologyRepository(redisClient)
		traits = service.NewEngine(postgresStores(pgPool, topology, cfg.Booking.MaxRetries), opts)
		admin = traits
		if adminPool != nil {
			// Same cache instance, so admin writes invalidate user searches.
			admin = service.NewEngine(postgresStores(adminPool, topology, cfg.Booking.MaxRetries), opts)
		}
	}

	// ── Seed ────────────────────────────────────────────
	if cfg.SeedFile != "" {
		file, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("failed to load seed file: %v", err)
		}
		if _, err := file.Apply(ctx, admin); err != nil {
			log.Fatalf("failed to apply seed file %s: %v", cfg.SeedFile, err)
		}
	}

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	// Health check endpoint.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	handler.Routes(router, traits, admin, cfg.AdminToken)
	if cfg.AdminToken == "" {
		log.Println("⚠ ADMIN_TOKEN is empty, admin routes are unprotected")
	}

	h := middleware.RequestLogger(middleware.Recoverer(router))
	h = middleware.CORS(h)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s (%s storage)", cfg.Server.ServerAddr(), cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

func postgresStores(pool *pgxpool.Pool, topology *repository.TopologyRepository, maxRetries int) service.Stores {
	return service.Stores{
		Topology:  topology,
		Directory: repository.NewDirectoryRepository(pool, maxRetries),
		Schedules: repository.NewScheduleRepository(pool),
		Tickets:   repository.NewBookingRepository(pool, maxRetries),
	}
}

// newSearchCache returns nil when caching is disabled.
func newSearchCache(cfg config.SearchConfig, client *redis.Client) service.SearchCache {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		log.Printf("✓ Search cache: redis (ttl %s)", cfg.CacheTTL)
		return repository.NewRedisSearchCache(client, cfg.CacheTTL)
	case config.CacheLocal:
		log.Printf("✓ Search cache: local LRU of %d (ttl %s)", cfg.CacheSize, cfg.CacheTTL)
		return repository.NewLocalSearchCache(cfg.CacheSize, cfg.CacheTTL)
	default:
		log.Println("✓ Search cache disabled")
		return nil
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler reports PG and Redis connectivity. Backends that are not in
// use are skipped.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if pgPool != nil {
			if err := db.HealthCheck(r.Context(), pgPool); err != nil {
				resp.Status = "degraded"
				resp.Services["postgres"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["postgres"] = "healthy"
			}
		}

		if redisClient != nil {
			if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
				resp.Status = "degraded"
				resp.Services["redis"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["redis"] = "healthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
