package kafkax

import (
	"context"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMeta(t *testing.T) {
	msg := kafka.Message{
		Topic: "booking.created.v1",
		Key:   []byte("uid-1"),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("evt-1")},
			{Key: HeaderEventType, Value: []byte("booking.created.v1")},
		},
	}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "booking.created.v1" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "booking.cancelled.v1", Key: []byte("uid-2")})
	if meta.EventID != "uid-2" {
		t.Fatalf("event id = %q, want uid-2", meta.EventID)
	}
	if meta.EventType != "booking.cancelled.v1" {
		t.Fatalf("event type = %q, want booking.cancelled.v1", meta.EventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitBrokers = %v, want %v", got, want)
	}
	if got := SplitBrokers(""); got != nil {
		t.Fatalf("SplitBrokers(\"\") = %v, want nil", got)
	}
}

// Headers injected for a sampled span must survive the round trip back out
// of a consumed message.
func TestTraceHeaderRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{
		{Key: HeaderEventID, Value: []byte("evt-1")},
	})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatal("traceparent header not injected")
	}

	out := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	got := trace.SpanContextFromContext(out)
	if got.TraceID() != traceID {
		t.Fatalf("trace id = %s, want %s", got.TraceID(), traceID)
	}
}
