package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/qkeluna/qclickin/libs/config"
	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/libs/httpx"
	"github.com/qkeluna/qclickin/libs/kafkax"
	otelx "github.com/qkeluna/qclickin/libs/otel"
	"github.com/qkeluna/qclickin/libs/runtime"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/booking"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/handlers"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/outbox"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)
	userRepo := storage.NewUserRepository(pool)
	eventTypeRepo := storage.NewEventTypeRepository(pool)
	attendeeRepo := storage.NewAttendeeRepository(pool)
	bookingSvc := booking.NewService(bookingRepo)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	publicHandler := handlers.NewPublicHandler(userRepo, eventTypeRepo, bookingRepo, bookingSvc, logger)
	bookingsHandler := handlers.NewBookingsHandler(bookingRepo, attendeeRepo, bookingSvc, logger, jwtSecret)
	eventTypesHandler := handlers.NewEventTypesHandler(eventTypeRepo, jwtSecret)
	availabilityHandler := handlers.NewAvailabilityHandler(userRepo, jwtSecret)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	mux.HandleFunc("GET /api/v1/public/{username}", publicHandler.Profile)
	mux.HandleFunc("GET /api/v1/public/{username}/{slug}/slots", publicHandler.Slots)
	mux.HandleFunc("POST /api/v1/public/{username}/{slug}/book", publicHandler.Book)

	mux.HandleFunc("GET /api/v1/bookings", bookingsHandler.List)
	mux.HandleFunc("GET /api/v1/bookings/{id}", bookingsHandler.Get)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/status", bookingsHandler.UpdateStatus)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/reschedule", bookingsHandler.Reschedule)
	mux.HandleFunc("PATCH /api/v1/attendees/{id}", bookingsHandler.UpdateAttendee)
	mux.HandleFunc("POST /api/v1/attendees/{id}/no-show", bookingsHandler.SetNoShow)

	mux.HandleFunc("GET /api/v1/event-types", eventTypesHandler.List)
	mux.HandleFunc("POST /api/v1/event-types", eventTypesHandler.Create)
	mux.HandleFunc("GET /api/v1/event-types/{id}", eventTypesHandler.Get)
	mux.HandleFunc("PATCH /api/v1/event-types/{id}", eventTypesHandler.Update)
	mux.HandleFunc("DELETE /api/v1/event-types/{id}", eventTypesHandler.Delete)

	mux.HandleFunc("GET /api/v1/availability", availabilityHandler.Get)
	mux.HandleFunc("PATCH /api/v1/availability", availabilityHandler.Update)

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMiddleware httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rateLimitMiddleware = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service).Middleware(logger, true)
	} else {
		rateLimitMiddleware = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           10 * time.Minute,
		}),
		rateLimitMiddleware,
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
