package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Result summarizes one delivery attempt sequence against a subscriber.
type Result struct {
	DeliveryID  string
	StatusCode  int
	Attempts    int
	LastError   string
	DeliveredAt *time.Time
}

// Dispatcher POSTs signed event payloads to subscriber endpoints with a
// bounded retry loop. 2xx is success; anything else, including transport
// errors, is retried up to MaxAttempts with a doubling delay.
type Dispatcher struct {
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

func New(logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Deliver sends payload to url, signing the body with the subscription
// secret. The signature scheme is sha256=<hex hmac-sha256(body)>.
func (d *Dispatcher) Deliver(ctx context.Context, url, secret, eventType string, payload []byte) Result {
	result := Result{DeliveryID: uuid.NewString()}
	signature := Sign(payload, secret)

	delay := d.retryDelay
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result.Attempts = attempt

		code, err := d.post(ctx, url, eventType, result.DeliveryID, signature, payload)
		result.StatusCode = code
		if err != nil {
			result.LastError = err.Error()
		} else if code >= 200 && code < 300 {
			now := time.Now().UTC()
			result.DeliveredAt = &now
			result.LastError = ""
			return result
		} else {
			result.LastError = fmt.Sprintf("endpoint returned %d", code)
		}

		d.logger.Warn("webhook delivery attempt failed",
			"url", url, "event_type", eventType, "attempt", attempt, "err", result.LastError)

		if attempt < d.maxAttempts {
			select {
			case <-ctx.Done():
				result.LastError = ctx.Err().Error()
				return result
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return result
}

func (d *Dispatcher) post(ctx context.Context, url, eventType, deliveryID, signature string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-QClickIn-Event", eventType)
	req.Header.Set("X-QClickIn-Delivery", deliveryID)
	req.Header.Set("X-QClickIn-Signature", signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}

// Sign computes the header value subscribers verify against.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
