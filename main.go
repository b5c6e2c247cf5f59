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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"report-embed/embedcfg"
	"report-embed/security"
	"report-embed/statusbus"
	"report-embed/telemetry"
)

type HealthResponse struct {
	OK       bool   `json:"ok"`
	Version  string `json:"version"`
	Service  string `json:"service"`
	Sessions int    `json:"sessions"`
}

const VERSION = "0.1.0"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting report embed host...")

	cfg, err := ConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := statusbus.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	metrics := telemetry.New()
	store := statusbus.NewPublisher(redisClient, cfg.SessionTTL)
	fetcher := newFetcher(ctx, cfg, redisClient)

	sessions := newSessionRegistry(registryOptions{
		Endpoint:     cfg.Endpoint,
		Template:     cfg.Template(),
		Fetcher:      fetcher,
		Store:        store,
		Metrics:      metrics,
		FetchTimeout: cfg.FetchTimeout,
	})
	NewSessionReaper(sessions, cfg.ReapInterval, cfg.SessionTTL).Start(ctx)

	r := newRouter(sessions, store, metrics)

	srv := &http.Server{
		Handler:     r,
		Addr:        "0.0.0.0:" + cfg.Port,
		ReadTimeout: 60 * time.Second,
	}

	log.Printf("Report embed host v%s starting on %s (config endpoint %s, token type %s)", VERSION, srv.Addr, cfg.Endpoint, cfg.TokenType)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// newFetcher builds the config fetcher over an optionally authenticated client.
func newFetcher(ctx context.Context, cfg Config, redisClient *redis.Client) *embedcfg.Fetcher {
	base := &http.Client{Timeout: cfg.FetchTimeout}
	client := security.NewBackendClient(ctx, cfg.Backend, security.NewTokenStore(redisClient), base)
	if cfg.Backend.Enabled() {
		log.Printf("Backend client credentials enabled for client %s", cfg.Backend.ClientID)
	}

	opts := []embedcfg.Option{embedcfg.WithHTTPClient(client)}
	if cfg.FetchRPS > 0 {
		opts = append(opts, embedcfg.WithLimiter(rate.NewLimiter(rate.Limit(cfg.FetchRPS), int(cfg.FetchRPS)+1)))
	}
	return embedcfg.NewFetcher(opts...)
}

func newRouter(sessions *sessionRegistry, store *statusbus.Publisher, metrics *telemetry.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(sessions)).Methods("GET")
	r.HandleFunc("/", hostPageHandler).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	registerEmbedRoutes(r, sessions, store)
	return r
}

func healthHandler(sessions *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := HealthResponse{
			OK:       true,
			Version:  VERSION,
			Service:  "report-embed",
			Sessions: sessions.Len(),
		}

		json.NewEncoder(w).Encode(response)
	}
}
