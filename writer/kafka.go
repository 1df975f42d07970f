package writer

import (
	"context"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// KafkaBackend shares one Kafka writer across all market buffers. Messages
// are keyed by market id so a market's packets stay on one partition in
// order.
type KafkaBackend struct {
	writer *kafka.Writer
	log    *logger.Log
}

func NewKafkaBackend(cfg *appconfig.Config) (*KafkaBackend, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kb := &KafkaBackend{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: logger.GetLogger(),
	}
	kb.log.WithComponent("kafka_buffer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka backend initialized")
	return kb, nil
}

func (k *KafkaBackend) Close() error { return k.writer.Close() }

// Constructor returns a buffer constructor backed by this writer, suitable
// for registering under the "kafka" backend name.
func (k *KafkaBackend) Constructor() Constructor {
	return func(params BufferParams) (MarketBuffer, error) {
		return &KafkaBuffer{
			packetBuffer: packetBuffer{
				marketID: params.MarketID,
				maxSize:  params.Config.Writer.Buffer.MaxSize,
			},
			backend: k,
			ctx:     params.Ctx,
		}, nil
	}
}

// KafkaBuffer publishes each held packet as one message per flush.
type KafkaBuffer struct {
	packetBuffer
	backend *KafkaBackend
	ctx     context.Context
}

func (b *KafkaBuffer) Push(pkt models.MarketPacket) error {
	b.add(pkt)
	if b.full() {
		return b.Flush()
	}
	return nil
}

func (b *KafkaBuffer) Flush() error {
	items := b.take()
	if len(items) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(items))
	for _, pkt := range items {
		line, err := pkt.StoreLine()
		if err != nil {
			return fmt.Errorf("encode packet for %s: %w", b.marketID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(b.marketID),
			Value: line,
		})
	}
	ctx := context.WithoutCancel(b.ctx)
	if err := b.backend.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write to kafka for %s: %w", b.marketID, err)
	}
	b.backend.log.WithComponent("kafka_buffer").WithFields(logger.Fields{
		"market_id": b.marketID,
		"records":   len(items),
	}).Debug("buffer flushed to kafka")
	logger.IncrementBufferFlush(len(items))
	return nil
}
