package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	natsio "github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	config "github.com/conclave-games/conclave-services/configs"

	"github.com/conclave-games/conclave-services/internal/nats"
	"github.com/conclave-games/conclave-services/internal/syncsvc/auth"
	"github.com/conclave-games/conclave-services/internal/syncsvc/broker"
	"github.com/conclave-games/conclave-services/internal/syncsvc/db"
	"github.com/conclave-games/conclave-services/internal/syncsvc/game"
	"github.com/conclave-games/conclave-services/internal/syncsvc/handlers"
	"github.com/conclave-games/conclave-services/internal/syncsvc/hub"
	"github.com/conclave-games/conclave-services/internal/syncsvc/store"
)

const SERVICE_NAME = "sync"

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	instanceId := config.CreateUniqueInstance(SERVICE_NAME)

	// Durable store: postgres when configured, in-memory for local play.
	var st store.Store
	if os.Getenv("DATABASE_URL") != "" {
		pool, err := db.Connect()
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool()
		log.Printf("pg connection established successfully")
		st = store.NewPostgres(pool)
	} else {
		log.Warn("DATABASE_URL not set, running with the in-memory store")
		st = store.NewMemory()
	}

	h := hub.NewHub()

	// With NATS configured, broadcasts are relayed to the other sync
	// instances so every session of a game hears every event.
	var bcast game.Broadcaster = h
	var sub *natsio.Subscription
	if os.Getenv("NATS_URL") != "" {
		n, err := nats.Connect()
		if err != nil {
			log.Errorf("Error: unable to connect to NATS server %v", err)
			os.Exit(0)
		}
		defer n.Conn.Close()
		log.Printf("NATS connection established successfully %s", n.Url)

		b := broker.NewBroker(n.Conn, h, instanceId)
		sub, err = b.Subscribe()
		if err != nil {
			log.Errorf("Error: unable to subscribe to game events %v", err)
			os.Exit(0)
		}
		bcast = b
	}

	engine := game.NewEngine(st, bcast)
	verifier := auth.NewVerifier()
	handler := handlers.NewHandler(engine, h, verifier)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimit := 300
	if rateLimitStr := os.Getenv("RATE_LIMIT"); rateLimitStr != "" {
		var err error
		rateLimit, err = strconv.Atoi(rateLimitStr)
		if err != nil {
			log.Fatalf("Invalid RATE_LIMIT value: %v", err)
		}
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	handler.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:        ":" + os.Getenv("SYNC_SERVICE_PORT"),
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	if sub != nil {
		sub.Unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
