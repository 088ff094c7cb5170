package db

import (
	"context"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type analysisRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepository(db *gorm.DB, log *logger.Logger) ports.AnalysisRepository {
	return &analysisRepository{db: db, log: log}
}

func (r *analysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.log.Errorw("analysis_repo_create_failed", "code", record.StockCode, "actor", record.Actor, "error", err)
		return err
	}
	return nil
}

func (r *analysisRepository) GetByStockCode(ctx context.Context, code string, limit int) ([]domain.AnalysisRecord, error) {
	var records []domain.AnalysisRecord
	err := r.db.WithContext(ctx).
		Where("stock_code = ?", code).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		r.log.Errorw("analysis_repo_list_failed", "code", code, "error", err)
		return nil, err
	}
	return records, nil
}
