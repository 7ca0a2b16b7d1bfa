package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"boostplane/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// Publisher writes domain events and outbound user messages to Kafka.
type Publisher struct {
	producer *kafka.Producer
	cfg      *config.Config
}

func NewPublisher(lc fx.Lifecycle, cfg *config.Config) (*Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Addrs,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			producer.Flush(5000)
			producer.Close()
			return nil
		},
	})

	return &Publisher{producer: producer, cfg: cfg}, nil
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          b,
	}, delivery); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	select {
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BoostEvent is the envelope emitted whenever a boost changes state for an account.
type BoostEvent struct {
	EventType string            `json:"event_type"`
	BoostID   string            `json:"boost_id"`
	AccountID string            `json:"account_id"`
	Status    string            `json:"status"`
	Amount    *EventAmount      `json:"amount,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
}

type EventAmount struct {
	Value    int64  `json:"value"`
	Unit     string `json:"unit"`
	Currency string `json:"currency"`
}

func (p *Publisher) PublishBoostEvent(ctx context.Context, ev BoostEvent) error {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}
	if err := p.publish(ctx, p.cfg.Kafka.UserEventTopic, ev.AccountID, ev); err != nil {
		zap.L().Error("failed to publish boost event",
			zap.String("event_type", ev.EventType),
			zap.String("boost_id", ev.BoostID),
			zap.Error(err))
		return err
	}
	return nil
}

// TemplateMessage is an outbound notification rendered downstream by the messaging pipeline.
type TemplateMessage struct {
	AccountID string            `json:"account_id"`
	Template  string            `json:"template"`
	Params    map[string]string `json:"params,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

func (p *Publisher) SendTemplateMessage(ctx context.Context, accountID, template string, params map[string]string) error {
	msg := TemplateMessage{
		AccountID: accountID,
		Template:  template,
		Params:    params,
		SentAt:    time.Now().UTC(),
	}
	if err := p.publish(ctx, p.cfg.Kafka.MessageTopic, accountID, msg); err != nil {
		zap.L().Error("failed to send template message",
			zap.String("account_id", accountID),
			zap.String("template", template),
			zap.Error(err))
		return err
	}
	return nil
}
