package handlers

import (
	"bufio"
	"errors"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/config"
	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/core/services"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/Tyler050121/react-stock-app/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type AnalysisHandler struct {
	analysis  ports.AnalysisService
	aiConfig  config.AIConfig
	logger    *logger.Logger
	heartbeat time.Duration
}

func NewAnalysisHandler(analysis ports.AnalysisService, aiConfig config.AIConfig, logger *logger.Logger, heartbeat time.Duration) *AnalysisHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &AnalysisHandler{analysis: analysis, aiConfig: aiConfig, logger: logger, heartbeat: heartbeat}
}

// GetModels returns the configured model and role catalogue.
func (h *AnalysisHandler) GetModels(c *fiber.Ctx) error {
	models := h.aiConfig.AvailableModels
	if models == nil {
		models = []config.ModelOption{}
	}
	roles := h.aiConfig.AvailableRoles
	if roles == nil {
		roles = []config.RoleOption{}
	}
	return c.JSON(fiber.Map{"models": models, "roles": roles})
}

// Analyze starts an analysis run and streams its events. POST carries the
// actors payload in the body; GET carries it URL-encoded in the "actors"
// query parameter (the EventSource path).
func (h *AnalysisHandler) Analyze(c *fiber.Ctx) error {
	code := c.Params("code")

	var raw []byte
	if c.Method() == fiber.MethodGet {
		actorsParam := c.Query("actors")
		if actorsParam == "" {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "actors parameter required"})
		}
		raw = []byte(actorsParam)
	} else {
		raw = c.Body()
	}

	body, err := dto.ParseAnalysisActors(raw)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "malformed actors payload"})
	}
	req := body.ToDomain(code)

	// The subscription comes back attached ahead of the run, so the stream
	// starts at the first event.
	taskID, sub, err := h.analysis.StartAnalysis(req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAnalysisNoActors), errors.Is(err, services.ErrAnalysisInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, services.ErrStockNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "stock not found"})
		default:
			h.logger.Errorw("analysis_start_failed", "code", code, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
		}
	}

	setSSEHeaders(c)
	c.Set("X-Task-ID", taskID)
	h.logger.Infow("analysis_sse_connected", "task_id", taskID, "code", code)

	heartbeat := h.heartbeat
	log := h.logger
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Cancel()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					log.Infow("analysis_sse_closed", "task_id", taskID)
					return
				}
				if err := writeSSEData(w, ev); err != nil {
					log.Infow("analysis_sse_client_gone", "task_id", taskID)
					return
				}
			case <-ticker.C:
				if err := writeSSEHeartbeat(w); err != nil {
					log.Infow("analysis_sse_client_gone", "task_id", taskID)
					return
				}
			}
		}
	}))
	return nil
}
