package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"restoerp/server/internal/services"
)

type hubMessage struct {
	tenantID string
	payload  []byte
}

// Hub управляет WebSocket соединениями клиентов склада.
// Каждое соединение подписано на события одного тенанта
type Hub struct {
	clients   map[*websocket.Conn]string
	broadcast chan hubMessage
	mutex     sync.RWMutex
}

// NewHub создает хаб с буферизованным каналом рассылки
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan hubMessage, 256),
	}
}

// Run рассылает сообщения до отмены контекста
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg hubMessage) {
	var failed []*websocket.Conn
	h.mutex.RLock()
	for client, tenant := range h.clients {
		if tenant != msg.tenantID {
			continue
		}
		if err := client.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	// Удаляем клиентов, запись которым не удалась
	for _, client := range failed {
		h.RemoveClient(client)
	}
}

// AddClient подписывает соединение на события тенанта
func (h *Hub) AddClient(conn *websocket.Conn, tenantID string) {
	h.mutex.Lock()
	h.clients[conn] = tenantID
	h.mutex.Unlock()
}

// RemoveClient удаляет клиента
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mutex.Unlock()
}

// BroadcastToTenant ставит сообщение в очередь рассылки
func (h *Hub) BroadcastToTenant(tenantID string, message []byte) {
	select {
	case h.broadcast <- hubMessage{tenantID: tenantID, payload: message}:
	default:
		// Если канал переполнен, пропускаем сообщение (не блокируем)
		zap.S().Warnf("⚠️ WebSocket очередь переполнена, событие для тенанта %s пропущено", tenantID)
	}
}

// GetClientsCount возвращает количество подключенных клиентов
func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HubPublisher отправляет складские события подключенным клиентам тенанта
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, event services.InventoryEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		zap.S().Warnf("⚠️ Ошибка маршалинга события %s: %v", event.Type, err)
		return
	}
	p.hub.BroadcastToTenant(event.TenantID, data)
}
