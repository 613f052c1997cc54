package bus

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewClient_RequiresBrokers(t *testing.T) {
	if _, err := NewClient(nil, "group"); err == nil {
		t.Error("expected error for empty broker list")
	}
}

func TestNewClient_DefaultGroup(t *testing.T) {
	c, err := NewClient([]string{"localhost:9092"}, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.group != "warehouse-processing" {
		t.Errorf("expected default group, got %q", c.group)
	}
}

func TestProcessedTopic(t *testing.T) {
	cases := map[string]string{
		TopicInventory: TopicProcessedInventory,
		TopicOrders:    TopicProcessedOrders,
		TopicShipments: TopicProcessedShipments,
		TopicAlerts:    "",
		TopicAudit:     "",
		TopicMetrics:   "",
	}
	for in, want := range cases {
		if got := ProcessedTopic(in); got != want {
			t.Errorf("ProcessedTopic(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestDecode(t *testing.T) {
	msg := kafka.Message{Value: []byte(`{"item_id":"I1","quantity":50}`)}
	rec, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.String("item_id") != "I1" {
		t.Errorf("expected item_id I1, got %q", rec.String("item_id"))
	}
	if q, _ := rec.Float("quantity"); q != 50 {
		t.Errorf("expected quantity 50, got %v", q)
	}
}

func TestDecode_Invalid(t *testing.T) {
	msg := kafka.Message{Value: []byte(`not json`)}
	if _, err := Decode(msg); err == nil {
		t.Error("expected decode error for malformed payload")
	}
}

func TestMessageMetadata(t *testing.T) {
	msg := kafka.Message{
		Topic:     TopicInventory,
		Partition: 2,
		Offset:    1234,
		Key:       []byte("I1"),
	}
	meta := MessageMetadata(msg)
	if meta.Topic != TopicInventory || meta.Partition != 2 || meta.Offset != 1234 || meta.Key != "I1" {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	rec := meta.AsRecord()
	if rec.String("topic") != TopicInventory {
		t.Errorf("expected topic in record, got %v", rec["topic"])
	}
	if off, _ := rec.Float("offset"); off != 1234 {
		t.Errorf("expected offset 1234, got %v", rec["offset"])
	}
}

func TestInputTopics(t *testing.T) {
	topics := InputTopics()
	if len(topics) != 6 {
		t.Fatalf("expected 6 input topics, got %d", len(topics))
	}
	if topics[0] != TopicInventory {
		t.Errorf("expected inventory first, got %s", topics[0])
	}
}
