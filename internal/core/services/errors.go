package services

import "errors"

// Task errors
var (
	ErrTaskNotFound = errors.New("task: not found")
)

// Crawl errors
var (
	ErrCrawlAlreadyRunning = errors.New("crawl: already running")
	ErrCrawlInvalidCount   = errors.New("crawl: stock count must be at least 1")
	ErrStockNotFound       = errors.New("crawl: stock not found")
)

// Analysis errors
var (
	ErrAnalysisNoActors     = errors.New("analysis: at least one actor with a model is required")
	ErrAnalysisInvalidInput = errors.New("analysis: invalid input")
)
