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
	"github.com/qkeluna/qclickin/services/webhook-service/internal/consumer"
	"github.com/qkeluna/qclickin/services/webhook-service/internal/dispatch"
	"github.com/qkeluna/qclickin/services/webhook-service/internal/handlers"
	"github.com/qkeluna/qclickin/services/webhook-service/internal/inbox"
	"github.com/qkeluna/qclickin/services/webhook-service/internal/storage"
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
	service := config.String("SERVICE_NAME", "webhook-service")
	port, err := config.Port("PORT", "8084")
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

	webhookRepo := storage.NewWebhookRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	dispatcher := dispatch.New(logger, dispatch.Config{
		Timeout:     time.Duration(config.Int("DELIVERY_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxAttempts: config.Int("DELIVERY_MAX_ATTEMPTS", 3),
		RetryDelay:  time.Second,
	})

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	for _, topic := range bookingTopics {
		cfg := consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "webhook-service"),
			Topic:   topic,
		}
		eventConsumer := consumer.New(logger, inboxRepo, cfg, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				HostID int64 `json:"host_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.HostID == 0 {
				logger.Error("missing host_id in event", "topic", msg.Topic)
				return nil
			}

			subs, err := webhookRepo.ListActiveForEvent(ctx, payload.HostID, msg.Topic)
			if err != nil {
				return err
			}
			meta := kafkax.ExtractEventMeta(msg)
			for _, sub := range subs {
				result := dispatcher.Deliver(ctx, sub.URL, sub.Secret, msg.Topic, msg.Value)
				record := &storage.Delivery{
					WebhookID:   sub.ID,
					EventID:     meta.EventID,
					EventType:   msg.Topic,
					StatusCode:  result.StatusCode,
					Attempts:    result.Attempts,
					LastError:   result.LastError,
					DeliveredAt: result.DeliveredAt,
				}
				if err := webhookRepo.RecordDelivery(ctx, record); err != nil {
					logger.Error("failed to record delivery", "err", err, "webhook_id", sub.ID)
				}
			}
			return nil
		})
		go eventConsumer.Run(ctx)
	}

	webhooksHandler := handlers.NewWebhooksHandler(webhookRepo, jwtSecret)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.HandleFunc("GET /api/v1/webhooks", webhooksHandler.List)
	mux.HandleFunc("POST /api/v1/webhooks", webhooksHandler.Create)
	mux.HandleFunc("GET /api/v1/webhooks/{id}", webhooksHandler.Get)
	mux.HandleFunc("PATCH /api/v1/webhooks/{id}", webhooksHandler.Update)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", webhooksHandler.Delete)
	mux.HandleFunc("GET /api/v1/webhooks/{id}/deliveries", webhooksHandler.Deliveries)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "webhook")

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
