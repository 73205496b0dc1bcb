package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"restoerp/server/internal/services"
)

// Форматы сообщений в топике событий
const (
	EventFormatJSON     = "json"
	EventFormatProtobuf = "protobuf" // google.protobuf.Struct в бинарном виде
)

// messageWriter - часть kafka.Writer, которой пользуется публикатор
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher отправляет складские события в Kafka.
// Ключ сообщения - тенант, чтобы события одного тенанта шли в одну партицию по порядку
type KafkaPublisher struct {
	writer    messageWriter
	format    string
	sentCount int64
	logger    *zap.SugaredLogger
}

// NewKafkaPublisher создает асинхронный producer событий
func NewKafkaPublisher(brokers []string, topic, format string, transport *kafka.Transport) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Transport:    transport,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				zap.S().Warnf("⚠️ Kafka: не удалось доставить %d событий: %v", len(messages), err)
			}
		},
	}
	zap.S().Infof("✅ Kafka producer событий склада: топик %s, брокеры %v", topic, brokers)
	return newKafkaPublisher(writer, format)
}

func newKafkaPublisher(writer messageWriter, format string) *KafkaPublisher {
	if format != EventFormatProtobuf {
		format = EventFormatJSON
	}
	return &KafkaPublisher{writer: writer, format: format, logger: zap.S()}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event services.InventoryEvent) {
	value, err := encodeEvent(event, p.format)
	if err != nil {
		p.logger.Warnf("⚠️ Ошибка кодирования события %s: %v", event.Type, err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "content-type", Value: []byte(p.format)},
		},
		Time: event.Timestamp,
	}
	// Запрос мог уже завершиться, а доставка асинхронная
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.Warnf("⚠️ Ошибка отправки события %s в Kafka: %v", event.Type, err)
		return
	}
	atomic.AddInt64(&p.sentCount, 1)
}

// SentCount возвращает число переданных в producer событий
func (p *KafkaPublisher) SentCount() int64 {
	return atomic.LoadInt64(&p.sentCount)
}

// Close дожидается отправки буфера и закрывает writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// encodeEvent сериализует событие в JSON или в protobuf Struct с теми же полями
func encodeEvent(event services.InventoryEvent, format string) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга события: %w", err)
	}
	if format != EventFormatProtobuf {
		return data, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("ошибка разбора события: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения protobuf события: %w", err)
	}
	return proto.Marshal(st)
}
