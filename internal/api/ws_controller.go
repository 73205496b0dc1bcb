package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Разрешаем подключения с любого origin (для разработки)
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeInventoryWS подписывает клиента на складские события тенанта.
// Браузер не может передать заголовок при upgrade, поэтому тенант можно указать в ?tenant_id=
// GET /api/v1/ws
func ServeInventoryWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(TenantHeader)
		if tenant == "" {
			tenant = c.Query("tenant_id")
		}
		if tenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Не указан тенант",
				"details": "заголовок " + TenantHeader + " или параметр tenant_id обязателен",
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			zap.S().Warnf("⚠️ Ошибка обновления WebSocket соединения: %v", err)
			return
		}

		hub.AddClient(conn, tenant)
		zap.S().Infof("🖥️ Клиент склада подключен (тенант %s). Всего подключений: %d", tenant, hub.GetClientsCount())

		defer func() {
			hub.RemoveClient(conn)
			zap.S().Infof("🖥️ Клиент склада отключен. Осталось подключений: %d", hub.GetClientsCount())
		}()

		// Читаем сообщения от клиента (ping/pong для поддержания соединения)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					zap.S().Warnf("⚠️ WebSocket ошибка: %v", err)
				}
				break
			}
		}
	}
}
