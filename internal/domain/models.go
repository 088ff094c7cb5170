package domain

import "time"

// ==================== PERSISTED MODELS ====================

type Stock struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Code      string    `gorm:"uniqueIndex" json:"code"`
	Name      string    `json:"name"`
	Market    string    `json:"market"`
	UpdatedAt time.Time `json:"updated_at"`
}

type KLine struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	StockID    uint      `gorm:"index:idx_klines_stock_res_date,priority:1" json:"-"`
	Date       time.Time `gorm:"index:idx_klines_stock_res_date,priority:3" json:"date"`
	Resolution string    `gorm:"default:1d;index:idx_klines_stock_res_date,priority:2" json:"resolution"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Turnover   float64   `json:"turnover"`
}

type FinancialData struct {
	ID                     uint      `gorm:"primaryKey" json:"-"`
	StockID                uint      `gorm:"index" json:"-"`
	Date                   time.Time `gorm:"index" json:"date"`
	PERatio                float64   `json:"pe_ratio"`
	PBRatio                float64   `json:"pb_ratio"`
	TotalMarketValue       float64   `json:"total_market_value"`
	CirculatingMarketValue float64   `json:"circulating_market_value"`
	Revenue                float64   `json:"revenue"`
	NetProfit              float64   `json:"net_profit"`
	ROE                    float64   `json:"roe"`
}

// AnalysisRecord keeps one generated actor or conclusion output so past
// runs can be reviewed after the event stream is gone.
type AnalysisRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	StockCode string    `gorm:"index" json:"stock_code"`
	Actor     string    `json:"actor"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ==================== ADAPTER RECORDS ====================

// SecurityRef identifies one listed security at the upstream source.
type SecurityRef struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"`
}

// SecuritySnapshot is the raw per-security record produced by the data
// source adapter for one fetch.
type SecuritySnapshot struct {
	SecurityRef
	KLines    []KLine
	Financial *FinancialData
}
