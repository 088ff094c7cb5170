package ports

import (
	"context"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/domain"
)

type KLineQuery struct {
	Resolution string
	StartDate  *time.Time
	EndDate    *time.Time
}

type StockRepository interface {
	GetAll(ctx context.Context) ([]domain.Stock, error)
	GetByCode(ctx context.Context, code string) (*domain.Stock, error)
	GetKLines(ctx context.Context, stockID uint, q KLineQuery) ([]domain.KLine, error)
	GetLatestFinancial(ctx context.Context, stockID uint) (*domain.FinancialData, error)
	SaveSnapshot(ctx context.Context, snap *domain.SecuritySnapshot) error
}

type AnalysisRepository interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	GetByStockCode(ctx context.Context, code string, limit int) ([]domain.AnalysisRecord, error)
}
