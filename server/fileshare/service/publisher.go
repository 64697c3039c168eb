package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"akashshare/server/common/infra/mq"
	"akashshare/server/fileshare/domain"
)

const (
	EventsExchange      = "share.events"
	EventFileIssued     = "file.issued"
	EventFileDownloaded = "file.downloaded"
	EventFileExpired    = "file.expired"
)

type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close()
}

// FileEvent is the body of every share.events message.
type FileEvent struct {
	Code       string    `json:"code"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	MimeType   string    `json:"mime_type"`
	Checksum   string    `json:"checksum,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newFileEvent(rec domain.FileRecord, reason string, at time.Time) FileEvent {
	return FileEvent{
		Code:       rec.Code,
		Filename:   rec.DisplayName,
		SizeBytes:  rec.SizeBytes,
		MimeType:   rec.MimeType,
		Checksum:   rec.Checksum,
		Reason:     reason,
		ExpiresAt:  rec.ExpiresAt,
		OccurredAt: at,
	}
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close()                                     {}

// AMQPPublisher serializes publishes because an amqp channel is not safe for concurrent use.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, ch, err := mq.NewChannel(url, EventsExchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, EventsExchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
