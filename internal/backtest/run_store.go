package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"klinesim/internal/exchange"
	"klinesim/internal/strategy"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// RunModel is the persisted form of a Run.
type RunModel struct {
	ID          string `gorm:"primaryKey"`
	Status      string `gorm:"index"`
	Pair        string `gorm:"index"`
	Strategy    string
	Interval    string
	StartTS     int64
	EndTS       int64
	ConfigJSON  datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON   datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (RunModel) TableName() string { return "runs" }

// OrderModel journals one order record of a run.
type OrderModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index"`
	OrderID    int64
	Pair       string
	Side       string
	Type       string
	Status     string
	Price      float64
	Volume     float64
	PlacedTS   int64
	ExecutedTS int64
}

func (OrderModel) TableName() string { return "run_orders" }

// SnapshotModel journals one equity point of a run.
type SnapshotModel struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"index"`
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Equity float64
}

func (SnapshotModel) TableName() string { return "run_snapshots" }

// ResultStore persists runs with their order and snapshot journals.
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &OrderModel{}, &SnapshotModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *ResultStore) SaveRun(ctx context.Context, run Run) error {
	model, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&model).Error
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var model RunModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return fromRunModel(model)
}

// ListRuns returns runs newest first.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromRunModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) SaveOrders(ctx context.Context, runID string, records []exchange.Record) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]OrderModel, 0, len(records))
	for _, rec := range records {
		m := OrderModel{
			RunID:    runID,
			OrderID:  rec.ID.ID,
			Pair:     rec.Order.Pair.String(),
			Side:     string(rec.Order.Side),
			Type:     string(rec.Order.Type),
			Status:   string(rec.Status),
			Price:    rec.Price,
			Volume:   rec.Order.Volume,
			PlacedTS: rec.PlacedAt.UnixMilli(),
		}
		if !rec.ExecutedAt.IsZero() {
			m.ExecutedTS = rec.ExecutedAt.UnixMilli()
		}
		models = append(models, m)
	}
	return s.db.WithContext(ctx).Create(&models).Error
}

func (s *ResultStore) RunOrders(ctx context.Context, runID string) ([]OrderModel, error) {
	var models []OrderModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("order_id ASC").Find(&models).Error
	return models, err
}

func (s *ResultStore) SaveSnapshots(ctx context.Context, runID string, points []strategy.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	models := make([]SnapshotModel, 0, len(points))
	for _, p := range points {
		models = append(models, SnapshotModel{
			RunID:  runID,
			TS:     p.Time.UnixMilli(),
			Open:   p.Candle.Open,
			High:   p.Candle.High,
			Low:    p.Candle.Low,
			Close:  p.Candle.Close,
			Equity: p.Equity,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 500).Error
}

func (s *ResultStore) RunSnapshots(ctx context.Context, runID string) ([]SnapshotModel, error) {
	var models []SnapshotModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC").Find(&models).Error
	return models, err
}

func toRunModel(run Run) (RunModel, error) {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return RunModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return RunModel{}, err
	}
	model := RunModel{
		ID:         run.ID,
		Status:     run.Status,
		Pair:       run.Config.Pair,
		Strategy:   run.Config.Strategy,
		Interval:   run.Config.Interval,
		StartTS:    run.Config.StartTS,
		EndTS:      run.Config.EndTS,
		ConfigJSON: datatypes.JSON(configJSON),
		StatsJSON:  datatypes.JSON(statsJSON),
		Message:    run.Message,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
	if !run.CompletedAt.IsZero() {
		at := run.CompletedAt
		model.CompletedAt = &at
	}
	return model, nil
}

func fromRunModel(m RunModel) (Run, error) {
	run := Run{
		ID:        m.ID,
		Status:    m.Status,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		run.CompletedAt = *m.CompletedAt
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
