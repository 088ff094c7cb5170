package db

import (
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Stock{},
		&domain.KLine{},
		&domain.FinancialData{},
		&domain.AnalysisRecord{},
	)
}
