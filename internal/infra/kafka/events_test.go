package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "portal",
		},
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "portal-iam",
		Env:  "test",
	}, zaptest.NewLogger(t))

	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, asyncProducer *fakeAsyncProducer, wantTopic string) map[string]any {
	t.Helper()

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != wantTopic {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
		return nil
	}
}

func TestPublishAccountLocked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	ip := "203.0.113.7"
	lockedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	event := domain.AccountLockedEvent{
		EventID:        "event-1",
		AccountID:      "acc-1",
		TenantID:       "tenant-1",
		PortalID:       "AB23CD45",
		FailedAttempts: 5,
		LockedUntil:    lockedAt.Add(30 * time.Minute),
		IPAddress:      &ip,
		LockedAt:       lockedAt,
		Metadata:       map[string]any{"source": "unit-test"},
	}

	if err := publisher.PublishAccountLocked(context.Background(), event); err != nil {
		t.Fatalf("PublishAccountLocked returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "portal.account.locked")

	if got := envelope["event_type"]; got != "account.locked" {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["account_id"]; got != event.AccountID {
		t.Fatalf("unexpected account_id: %v", got)
	}

	timestamp, ok := envelope["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp not a string: %T", envelope["timestamp"])
	}
	if timestamp != lockedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %s", timestamp)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["portal_id"]; got != event.PortalID {
		t.Fatalf("unexpected portal_id: %v", got)
	}
	attempts, ok := payload["failed_attempts"].(float64)
	if !ok {
		t.Fatalf("failed_attempts not numeric: %T", payload["failed_attempts"])
	}
	if int(attempts) != event.FailedAttempts {
		t.Fatalf("unexpected failed_attempts: %v", attempts)
	}
	if got := payload["ip_address"]; got != ip {
		t.Fatalf("unexpected ip_address: %v", got)
	}

	envelopeMetadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if envelopeMetadata["service"] != "portal-iam" {
		t.Fatalf("unexpected metadata service: %v", envelopeMetadata["service"])
	}
	if envelopeMetadata["environment"] != "test" {
		t.Fatalf("unexpected metadata environment: %v", envelopeMetadata["environment"])
	}
}

func TestPublishSuspiciousSession(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	previousIP := "203.0.113.7"
	currentIP := "198.51.100.9"
	observedAt := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC)
	event := domain.SuspiciousSessionEvent{
		EventID:    "event-2",
		SessionID:  "session-1",
		AccountID:  "acc-1",
		TenantID:   "tenant-1",
		Reason:     "impossible_velocity",
		PreviousIP: &previousIP,
		CurrentIP:  &currentIP,
		ObservedAt: observedAt,
		Metadata:   map[string]any{"source": "unit-test"},
	}

	if err := publisher.PublishSuspiciousSession(context.Background(), event); err != nil {
		t.Fatalf("PublishSuspiciousSession returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "portal.session.suspicious")

	if got := envelope["event_type"]; got != "session.suspicious" {
		t.Fatalf("unexpected event_type: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["session_id"]; got != event.SessionID {
		t.Fatalf("unexpected session_id: %v", got)
	}
	if got := payload["reason"]; got != event.Reason {
		t.Fatalf("unexpected reason: %v", got)
	}
	if got := payload["previous_ip"]; got != previousIP {
		t.Fatalf("unexpected previous_ip: %v", got)
	}
	if got := payload["current_ip"]; got != currentIP {
		t.Fatalf("unexpected current_ip: %v", got)
	}

	metadata, ok := payload["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("payload metadata not a map: %T", payload["metadata"])
	}
	if metadata["source"] != "unit-test" {
		t.Fatalf("metadata did not round-trip: %v", metadata)
	}
}

func TestPublishHighRiskLoginGeneratesEventID(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.HighRiskLoginEvent{
		AccountID:  "acc-1",
		TenantID:   "tenant-1",
		PortalID:   "AB23CD45",
		RiskScore:  80,
		ObservedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishHighRiskLogin(context.Background(), event); err != nil {
		t.Fatalf("PublishHighRiskLogin returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "portal.login.high_risk")

	id, ok := envelope["event_id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected a generated event id, got %v", envelope["event_id"])
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	score, ok := payload["risk_score"].(float64)
	if !ok {
		t.Fatalf("risk_score not numeric: %T", payload["risk_score"])
	}
	if int(score) != event.RiskScore {
		t.Fatalf("unexpected risk_score: %v", score)
	}
}
