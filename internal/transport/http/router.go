package http

import (
	"github.com/Tyler050121/react-stock-app/internal/config"
	"github.com/Tyler050121/react-stock-app/internal/core/services"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/ai"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/db"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/market"
	"github.com/Tyler050121/react-stock-app/internal/transport/http/handlers"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type RouterConfig struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config
	Stop   <-chan struct{}
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	// Repositories
	stockRepo := db.NewStockRepository(cfg.DB, cfg.Logger)
	analysisRepo := db.NewAnalysisRepository(cfg.DB, cfg.Logger)

	// External collaborators
	source := market.NewClient(cfg.Config.Crawler, cfg.Logger)
	gateway := ai.NewClient(cfg.Config.AI, cfg.Logger)

	// Services
	taskService := services.NewTaskService(cfg.Logger, cfg.Config.Tasks.Retention)
	taskService.StartSweeper(cfg.Stop, cfg.Config.Tasks.SweepInterval)

	crawlService := services.NewCrawlService(services.CrawlServiceConfig{
		Source:               source,
		StockRepo:            stockRepo,
		Tasks:                taskService,
		Logger:               cfg.Logger,
		Parallelism:          cfg.Config.Crawler.Parallelism,
		MaxAttempts:          cfg.Config.Crawler.MaxAttempts,
		FailureRateThreshold: cfg.Config.Crawler.FailureRateThreshold,
		Watchdog:             cfg.Config.Crawler.Watchdog,
		StreamBuffer:         cfg.Config.Tasks.StreamBuffer,
	})

	analysisService := services.NewAnalysisService(services.AnalysisServiceConfig{
		Gateway:      gateway,
		StockRepo:    stockRepo,
		AnalysisRepo: analysisRepo,
		Tasks:        taskService,
		Logger:       cfg.Logger,
		Watchdog:     cfg.Config.AI.Watchdog,
		StreamBuffer: cfg.Config.Tasks.StreamBuffer,
	})

	stockService := services.NewStockService(stockRepo, analysisRepo, cfg.Logger)

	// Handlers
	heartbeat := cfg.Config.Tasks.Heartbeat
	stockHandler := handlers.NewStockHandler(stockService, crawlService, cfg.Logger)
	crawlerHandler := handlers.NewCrawlerHandler(crawlService, cfg.Logger, heartbeat)
	analysisHandler := handlers.NewAnalysisHandler(analysisService, cfg.Config.AI, cfg.Logger, heartbeat)

	api := app.Group("/api")

	stocks := api.Group("/stocks")
	stocks.Get("/", stockHandler.GetStocks)
	stocks.Get("/:code", stockHandler.GetStock)
	stocks.Get("/:code/kline", stockHandler.GetKLine)
	stocks.Get("/:code/financial", stockHandler.GetFinancial)
	stocks.Post("/:code/refresh", stockHandler.RefreshStock)
	stocks.Get("/:code/analyses", stockHandler.GetAnalysisHistory)

	crawler := api.Group("/crawler")
	crawler.Post("/start", crawlerHandler.StartCrawl)
	crawler.Get("/status/:task_id", crawlerHandler.GetStatus)
	crawler.Get("/sse/:task_id", crawlerHandler.StreamSSE)

	crawler.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	crawler.Get("/ws/:task_id", websocket.New(crawlerHandler.StreamWS))

	analysis := api.Group("/analysis")
	analysis.Get("/models", analysisHandler.GetModels)
	analysis.Get("/:code", analysisHandler.Analyze)
	analysis.Post("/:code", analysisHandler.Analyze)
}
