package handlers

import (
	"bufio"
	"errors"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/core/services"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/Tyler050121/react-stock-app/internal/transport/http/dto"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type CrawlerHandler struct {
	crawl     ports.CrawlService
	logger    *logger.Logger
	heartbeat time.Duration
}

func NewCrawlerHandler(crawl ports.CrawlService, logger *logger.Logger, heartbeat time.Duration) *CrawlerHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &CrawlerHandler{crawl: crawl, logger: logger, heartbeat: heartbeat}
}

type startCrawlBody struct {
	StockCount int `json:"stock_count"`
}

func (h *CrawlerHandler) StartCrawl(c *fiber.Ctx) error {
	count := c.QueryInt("stock_count", 0)
	if count == 0 {
		var body startCrawlBody
		if err := c.BodyParser(&body); err == nil && body.StockCount > 0 {
			count = body.StockCount
		}
	}
	if count == 0 {
		count = 10
	}

	taskID, err := h.crawl.StartCrawl(count)
	if err != nil {
		if errors.Is(err, services.ErrCrawlAlreadyRunning) {
			h.logger.Warnw("crawl_start_rejected", "reason", "already running")
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "crawl already running"})
		}
		if errors.Is(err, services.ErrCrawlInvalidCount) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.logger.Errorw("crawl_start_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.StartCrawlResponse{TaskID: taskID, Status: "started"})
}

func (h *CrawlerHandler) GetStatus(c *fiber.Ctx) error {
	task, err := h.crawl.GetStatus(c.Params("task_id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "task not found"})
	}
	return c.JSON(task)
}

// StreamSSE pushes progress frames for one crawl task until the stream
// terminates. Disconnecting does not cancel the crawl.
func (h *CrawlerHandler) StreamSSE(c *fiber.Ctx) error {
	taskID := c.Params("task_id")

	sub, err := h.crawl.Subscribe(taskID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "task not found"})
	}

	setSSEHeaders(c)
	h.logger.Infow("crawl_sse_connected", "task_id", taskID)

	heartbeat := h.heartbeat
	log := h.logger
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Cancel()

		if err := writeSSEData(w, sub.Initial); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					log.Infow("crawl_sse_closed", "task_id", taskID)
					return
				}
				if err := writeSSEData(w, ev); err != nil {
					log.Infow("crawl_sse_client_gone", "task_id", taskID)
					return
				}
			case <-ticker.C:
				if err := writeSSEHeartbeat(w); err != nil {
					log.Infow("crawl_sse_client_gone", "task_id", taskID)
					return
				}
			}
		}
	}))
	return nil
}

// StreamWS pushes the same progress frames over a websocket connection.
func (h *CrawlerHandler) StreamWS(c *websocket.Conn) {
	taskID := c.Params("task_id")
	defer c.Close()

	sub, err := h.crawl.Subscribe(taskID)
	if err != nil {
		c.WriteJSON(fiber.Map{"error": "task not found", "status": "failed"})
		return
	}
	defer sub.Cancel()

	h.logger.Infow("crawl_ws_connected", "task_id", taskID)

	if err := c.WriteJSON(sub.Initial); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				h.logger.Infow("crawl_ws_closed", "task_id", taskID)
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				h.logger.Infow("crawl_ws_client_gone", "task_id", taskID)
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
