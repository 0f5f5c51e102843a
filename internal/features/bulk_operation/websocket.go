package bulk_operation

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const progressBuffer = 64

// ProgressSocket streams progress snapshots to websocket clients.
type ProgressSocket struct {
	BulkService BulkOperationService
	Logger      *zap.Logger
}

func NewProgressSocket(bulkService BulkOperationService, logger *zap.Logger) *ProgressSocket {
	return &ProgressSocket{BulkService: bulkService, Logger: logger}
}

func (h *ProgressSocket) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle sends the current snapshot, then every new one until the client
// goes away. Snapshots a slow client cannot keep up with are dropped.
func (h *ProgressSocket) Handle(c *websocket.Conn) {
	updates, unsubscribe := h.BulkService.SubscribeProgress(progressBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := c.WriteJSON(h.BulkService.Progress()); err != nil {
		h.Logger.Debug("progress socket write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-closed:
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(p); err != nil {
				h.Logger.Debug("progress socket write failed", zap.Error(err))
				return
			}
		}
	}
}
