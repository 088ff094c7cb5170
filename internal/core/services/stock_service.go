package services

import (
	"context"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
)

// StockService serves the persisted market data read paths.
type StockService struct {
	repo         ports.StockRepository
	analysisRepo ports.AnalysisRepository
	logger       *logger.Logger
}

func NewStockService(repo ports.StockRepository, analysisRepo ports.AnalysisRepository, log *logger.Logger) *StockService {
	return &StockService{repo: repo, analysisRepo: analysisRepo, logger: log}
}

func (s *StockService) GetStocks(ctx context.Context) ([]domain.Stock, error) {
	return s.repo.GetAll(ctx)
}

func (s *StockService) GetStockByCode(ctx context.Context, code string) (*domain.Stock, error) {
	stock, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, ErrStockNotFound
	}
	return stock, nil
}

func (s *StockService) GetKLines(ctx context.Context, code string, q ports.KLineQuery) ([]domain.KLine, error) {
	stock, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, ErrStockNotFound
	}
	return s.repo.GetKLines(ctx, stock.ID, q)
}

func (s *StockService) GetLatestFinancial(ctx context.Context, code string) (*domain.FinancialData, error) {
	stock, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, ErrStockNotFound
	}
	return s.repo.GetLatestFinancial(ctx, stock.ID)
}

func (s *StockService) GetAnalysisHistory(ctx context.Context, code string, limit int) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.analysisRepo.GetByStockCode(ctx, code, limit)
}
