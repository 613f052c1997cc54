package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/warehouse-ops/pipeline/internal/event"
)

const (
	// sendTimeout bounds a single produce call including its confirm.
	sendTimeout = 10 * time.Second
	maxAttempts = 3
)

// Metadata identifies where a message came from on the bus.
type Metadata struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
}

// AsRecord returns the metadata in the wire shape attached to processed
// events under processing.kafka_metadata.
func (m Metadata) AsRecord() event.Record {
	return event.Record{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
		"key":       m.Key,
	}
}

// Client creates consumers and producers bound to one broker set. Payloads
// are JSON; keys are opaque strings.
type Client struct {
	brokers []string
	group   string
}

func NewClient(brokers []string, group string) (*Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one Kafka broker address is required")
	}
	if group == "" {
		group = "warehouse-processing"
	}
	return &Client{brokers: brokers, group: group}, nil
}

// Consumer returns a polling handle bound to the client's consumer group.
// Offsets are committed only through Commit; there is no auto-commit.
func (c *Client) Consumer(topics []string, group string) *Consumer {
	if group == "" {
		group = c.group
	}
	cfg := kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	}
	if len(topics) == 1 {
		cfg.Topic = topics[0]
	} else {
		cfg.GroupTopics = topics
	}
	return &Consumer{reader: kafka.NewReader(cfg)}
}

// Producer returns a shared producer with required-acks=all and bounded
// retries.
func (c *Client) Producer() *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(c.brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  maxAttempts,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
	return &Producer{writer: writer}
}

// Consumer wraps a group reader with explicit offset commits.
type Consumer struct {
	reader *kafka.Reader
}

// FetchBatch polls for up to max messages, waiting at most timeout for the
// batch to fill. Returning fewer messages (including zero) is normal; the
// error is non-nil only when the fetch failed for a reason other than the
// deadline.
func (c *Consumer) FetchBatch(ctx context.Context, max int, timeout time.Duration) ([]kafka.Message, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var batch []kafka.Message
	for len(batch) < max {
		msg, err := c.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return batch, nil
			}
			return batch, fmt.Errorf("fetch message: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// Commit marks the given messages as processed. Call it only after the whole
// batch has been handled and all produce-side sends confirmed.
func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Decode unmarshals a bus message payload into a Record.
func Decode(msg kafka.Message) (event.Record, error) {
	var rec event.Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode message value: %w", err)
	}
	return rec, nil
}

// MessageMetadata extracts bus metadata from a fetched message.
func MessageMetadata(msg kafka.Message) Metadata {
	return Metadata{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
	}
}

// Producer is a blocking send-with-confirm JSON producer.
type Producer struct {
	writer *kafka.Writer
}

// Send JSON-encodes value and writes it to topic, retrying transient
// failures with exponential backoff inside the 10 s confirm window.
func (p *Producer) Send(ctx context.Context, topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	op := func() error {
		return p.writer.WriteMessages(sendCtx, msg)
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), sendCtx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		log.Printf("bus: producer close: %v", err)
		return err
	}
	return nil
}
