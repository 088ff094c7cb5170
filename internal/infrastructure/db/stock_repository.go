package db

import (
	"context"
	"errors"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type stockRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStockRepository(db *gorm.DB, log *logger.Logger) ports.StockRepository {
	return &stockRepository{db: db, log: log}
}

func (r *stockRepository) GetAll(ctx context.Context) ([]domain.Stock, error) {
	var stocks []domain.Stock
	if err := r.db.WithContext(ctx).Order("code").Find(&stocks).Error; err != nil {
		r.log.Errorw("stock_repo_list_failed", "error", err)
		return nil, err
	}
	return stocks, nil
}

func (r *stockRepository) GetByCode(ctx context.Context, code string) (*domain.Stock, error) {
	var stock domain.Stock
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&stock).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Errorw("stock_repo_get_failed", "code", code, "error", err)
		}
		return nil, err
	}
	return &stock, nil
}

func (r *stockRepository) GetKLines(ctx context.Context, stockID uint, q ports.KLineQuery) ([]domain.KLine, error) {
	resolution := q.Resolution
	if resolution == "" {
		resolution = "1d"
	}

	query := r.db.WithContext(ctx).
		Where("stock_id = ? AND resolution = ?", stockID, resolution)
	if q.StartDate != nil {
		query = query.Where("date >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		query = query.Where("date <= ?", *q.EndDate)
	}

	// Daily rows ascending for charting, minute rows descending so the
	// freshest data comes first.
	if resolution == "1d" {
		query = query.Order("date asc")
	} else {
		query = query.Order("date desc")
	}

	var klines []domain.KLine
	if err := query.Find(&klines).Error; err != nil {
		r.log.Errorw("stock_repo_kline_failed", "stock_id", stockID, "error", err)
		return nil, err
	}
	return klines, nil
}

func (r *stockRepository) GetLatestFinancial(ctx context.Context, stockID uint) (*domain.FinancialData, error) {
	var financial domain.FinancialData
	err := r.db.WithContext(ctx).
		Where("stock_id = ?", stockID).
		Order("date desc").
		First(&financial).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Errorw("stock_repo_financial_failed", "stock_id", stockID, "error", err)
		}
		return nil, err
	}
	return &financial, nil
}

// SaveSnapshot upserts the stock row and replaces the fetched kline rows
// and financial snapshot in one transaction.
func (r *stockRepository) SaveSnapshot(ctx context.Context, snap *domain.SecuritySnapshot) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stock := domain.Stock{
			Code:      snap.Code,
			Name:      snap.Name,
			Market:    snap.Market,
			UpdatedAt: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "market", "updated_at"}),
		}).Create(&stock).Error; err != nil {
			return err
		}
		if stock.ID == 0 {
			if err := tx.Where("code = ?", snap.Code).First(&stock).Error; err != nil {
				return err
			}
		}

		for i := range snap.KLines {
			kline := snap.KLines[i]
			kline.StockID = stock.ID
			res := tx.Where("stock_id = ? AND resolution = ? AND date = ?",
				stock.ID, kline.Resolution, kline.Date).
				Assign(map[string]any{
					"open": kline.Open, "high": kline.High, "low": kline.Low,
					"close": kline.Close, "volume": kline.Volume, "turnover": kline.Turnover,
				}).
				FirstOrCreate(&domain.KLine{}, domain.KLine{
					StockID:    stock.ID,
					Resolution: kline.Resolution,
					Date:       kline.Date,
				})
			if res.Error != nil {
				return res.Error
			}
		}

		if snap.Financial != nil {
			financial := *snap.Financial
			financial.StockID = stock.ID
			if err := tx.Create(&financial).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Errorw("stock_repo_save_snapshot_failed", "code", snap.Code, "error", err)
		return err
	}
	r.log.Infow("stock_repo_save_snapshot_ok", "code", snap.Code, "klines", len(snap.KLines))
	return nil
}
