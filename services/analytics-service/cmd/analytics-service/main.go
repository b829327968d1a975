package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/qkeluna/qclickin/libs/config"
	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/libs/httpx"
	"github.com/qkeluna/qclickin/libs/kafkax"
	otelx "github.com/qkeluna/qclickin/libs/otel"
	"github.com/qkeluna/qclickin/libs/runtime"
	"github.com/qkeluna/qclickin/services/analytics-service/internal/consumer"
	"github.com/qkeluna/qclickin/services/analytics-service/internal/handlers"
	"github.com/qkeluna/qclickin/services/analytics-service/internal/inbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var bookingTopics = []string{
	"booking.created.v1",
	"booking.accepted.v1",
	"booking.rejected.v1",
	"booking.cancelled.v1",
	"booking.rescheduled.v1",
}

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	inboxRepo := inbox.NewRepository(pool)

	handleBookingEvent := func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID   int64  `json:"booking_id"`
			UID         string `json:"uid"`
			HostID      int64  `json:"host_id"`
			EventTypeID int64  `json:"event_type_id"`
			StartTime   string `json:"start_time"`
			PriceCents  int    `json:"price_cents"`
			Currency    string `json:"currency"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.UID == "" || payload.HostID == 0 || payload.StartTime == "" {
			logger.Error("missing booking fields", "topic", msg.Topic)
			return nil
		}
		startTime, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time", "err", err, "topic", msg.Topic)
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			INSERT INTO booking_metrics
				(event_id, event_type, host_id, booking_id, booking_uid, event_type_id, price_cents, currency, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, msg.Topic, payload.HostID, payload.BookingID, payload.UID,
			payload.EventTypeID, payload.PriceCents, payload.Currency, startTime.UTC())
		if err != nil {
			logger.Error("failed to insert booking metric", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		var createdInc, acceptedInc, rejectedInc, cancelledInc, rescheduledInc, revenueInc int
		switch msg.Topic {
		case "booking.created.v1":
			createdInc = 1
		case "booking.accepted.v1":
			acceptedInc = 1
			revenueInc = payload.PriceCents
		case "booking.rejected.v1":
			rejectedInc = 1
		case "booking.cancelled.v1":
			cancelledInc = 1
		case "booking.rescheduled.v1":
			rescheduledInc = 1
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_booking_metrics
				(host_id, day, created_count, accepted_count, rejected_count, cancelled_count, rescheduled_count, revenue_cents)
			VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (host_id, day)
			DO UPDATE SET created_count = daily_booking_metrics.created_count + EXCLUDED.created_count,
			              accepted_count = daily_booking_metrics.accepted_count + EXCLUDED.accepted_count,
			              rejected_count = daily_booking_metrics.rejected_count + EXCLUDED.rejected_count,
			              cancelled_count = daily_booking_metrics.cancelled_count + EXCLUDED.cancelled_count,
			              rescheduled_count = daily_booking_metrics.rescheduled_count + EXCLUDED.rescheduled_count,
			              revenue_cents = daily_booking_metrics.revenue_cents + EXCLUDED.revenue_cents,
			              updated_at = now()
		`, payload.HostID, startTime.UTC(), createdInc, acceptedInc, rejectedInc, cancelledInc, rescheduledInc, revenueInc); err != nil {
			logger.Error("failed to update daily metrics", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit booking metric", "err", err)
			return err
		}

		logger.Info("booking metric recorded", "booking_uid", payload.UID, "host_id", payload.HostID, "event_type", msg.Topic)
		return nil
	}

	for _, topic := range bookingTopics {
		cfg := consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
			Topic:   topic,
		}
		eventConsumer := consumer.New(logger, inboxRepo, cfg, handleBookingEvent)
		go eventConsumer.Run(ctx)
	}

	metricsHandler := handlers.NewMetricsHandler(pool, jwtSecret)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("GET /api/v1/analytics/bookings", metricsHandler.Bookings)
	mux.HandleFunc("GET /api/v1/analytics/event-types", metricsHandler.EventTypes)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
