package services

import (
	"context"
	"time"
)

// Типы событий складского ядра
const (
	EventInflowCreated         = "inflow.created"
	EventBulkUploadCompleted   = "bulk_upload.completed"
	EventSaleCreated           = "sale.created"
	EventTransferStatusChanged = "transfer.status_changed"
	EventStockDriftDetected    = "stock.drift_detected"
)

// InventoryEvent - уведомление об изменении остатков, публикуется после коммита
type InventoryEvent struct {
	Type      string      `json:"type"`
	TenantID  string      `json:"tenant_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewInventoryEvent создает событие с текущим временем
func NewInventoryEvent(eventType, tenantID string, data interface{}) InventoryEvent {
	return InventoryEvent{
		Type:      eventType,
		TenantID:  tenantID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// EventPublisher доставляет события во внешние каналы (Kafka, WebSocket).
// Публикация не блокирует и не влияет на результат операции
type EventPublisher interface {
	Publish(ctx context.Context, event InventoryEvent)
}

// NoopPublisher отбрасывает события
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, InventoryEvent) {}

// MultiPublisher рассылает событие всем публикаторам по очереди
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event InventoryEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}
