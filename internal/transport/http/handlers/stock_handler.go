package handlers

import (
	"errors"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/core/services"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/Tyler050121/react-stock-app/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type StockHandler struct {
	stocks *services.StockService
	crawl  ports.CrawlService
	logger *logger.Logger
}

func NewStockHandler(stocks *services.StockService, crawl ports.CrawlService, logger *logger.Logger) *StockHandler {
	return &StockHandler{stocks: stocks, crawl: crawl, logger: logger}
}

func (h *StockHandler) GetStocks(c *fiber.Ctx) error {
	stocks, err := h.stocks.GetStocks(c.Context())
	if err != nil {
		h.logger.Errorw("stocks_list_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.StocksToResponse(stocks))
}

func (h *StockHandler) GetStock(c *fiber.Ctx) error {
	code := c.Params("code")
	stock, err := h.stocks.GetStockByCode(c.Context(), code)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "stock not found"})
	}
	return c.JSON(dto.StockToResponse(stock))
}

func (h *StockHandler) GetKLine(c *fiber.Ctx) error {
	code := c.Params("code")
	query := ports.KLineQuery{Resolution: c.Query("resolution", "1d")}

	layout := "2006-01-02"
	if query.Resolution == "1m" {
		layout = "2006-01-02 15:04"
	}
	if raw := c.Query("start_date"); raw != "" {
		t, err := parseDate(raw, layout)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid start_date"})
		}
		query.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := parseDate(raw, layout)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid end_date"})
		}
		if query.Resolution == "1m" && t.Hour() == 0 && t.Minute() == 0 {
			t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		}
		query.EndDate = &t
	}

	klines, err := h.stocks.GetKLines(c.Context(), code, query)
	if err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "stock not found"})
		}
		h.logger.Errorw("stock_kline_failed", "code", code, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(klines)
}

func (h *StockHandler) GetFinancial(c *fiber.Ctx) error {
	code := c.Params("code")
	financial, err := h.stocks.GetLatestFinancial(c.Context(), code)
	if err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "stock not found"})
		}
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no financial data"})
	}
	return c.JSON(financial)
}

// RefreshStock is the synchronous single-security fast path; it bypasses
// the task/stream model entirely.
func (h *StockHandler) RefreshStock(c *fiber.Ctx) error {
	code := c.Params("code")
	if err := h.crawl.RefreshOne(c.Context(), code); err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "stock not found"})
		}
		h.logger.Errorw("stock_refresh_failed", "code", code, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(fiber.Map{"message": "stock data refreshed"})
}

func (h *StockHandler) GetAnalysisHistory(c *fiber.Ctx) error {
	code := c.Params("code")
	records, err := h.stocks.GetAnalysisHistory(c.Context(), code, c.QueryInt("limit", 20))
	if err != nil {
		h.logger.Errorw("stock_analysis_history_failed", "code", code, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(records)
}

func parseDate(raw, layout string) (time.Time, error) {
	if t, err := time.Parse(layout, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
