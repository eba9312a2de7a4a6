package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crossbt/internal/backtest"
)

// RunStatus 标记一次回测任务的生命周期阶段。
type RunStatus string

const (
	RunStatusPending  RunStatus = "PENDING"
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusDone     RunStatus = "DONE"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusCanceled RunStatus = "CANCELED"
)

var ErrRunNotFound = errors.New("run 不存在")

// RunRecord 是对外暴露的回测任务记录。
type RunRecord struct {
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	StartTime int64           `json:"start_time"`
	EndTime   int64           `json:"end_time"`
	Status    RunStatus       `json:"status"`
	Params    backtest.Params `json:"params"`
	Error     string          `json:"error,omitempty"`

	InitialCapital   float64 `json:"initial_capital"`
	FinalRealCapital float64 `json:"final_real_capital"`
	RealROI          float64 `json:"real_roi"`
	MDDReal          float64 `json:"mdd_real"`
	TotalTrades      int     `json:"total_trades"`
	Demotions        int     `json:"demotions"`
	Promotions       int     `json:"promotions"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type runModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	RunID     string         `gorm:"column:run_id;uniqueIndex"`
	Symbol    string         `gorm:"column:symbol;index"`
	Interval  string         `gorm:"column:interval"`
	StartTime int64          `gorm:"column:start_time"`
	EndTime   int64          `gorm:"column:end_time"`
	Status    string         `gorm:"column:status;index"`
	Params    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Error     string         `gorm:"column:error"`

	InitialCapital   float64 `gorm:"column:initial_capital"`
	FinalRealCapital float64 `gorm:"column:final_real_capital"`
	RealROI          float64 `gorm:"column:real_roi"`
	MDDReal          float64 `gorm:"column:mdd_real"`
	TotalTrades      int     `gorm:"column:total_trades"`
	Demotions        int     `gorm:"column:demotions"`
	Promotions       int     `gorm:"column:promotions"`

	CreatedAtUnix  int64  `gorm:"column:created_at"`
	UpdatedAtUnix  int64  `gorm:"column:updated_at"`
	FinishedAtUnix *int64 `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	RunID      string  `gorm:"column:run_id;index"`
	Seq        int     `gorm:"column:seq"`
	Side       string  `gorm:"column:side"`
	Mode       string  `gorm:"column:mode"`
	EntryTime  int64   `gorm:"column:entry_time"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitTime   int64   `gorm:"column:exit_time"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	Size       float64 `gorm:"column:size"`
	Leverage   float64 `gorm:"column:leverage"`
	ExitReason string  `gorm:"column:exit_reason"`
	PnL        float64 `gorm:"column:pnl"`
	Fee        float64 `gorm:"column:fee"`
	NetPnL     float64 `gorm:"column:net_pnl"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type markerModel struct {
	ID     int64   `gorm:"column:id;primaryKey"`
	RunID  string  `gorm:"column:run_id;index"`
	Time   int64   `gorm:"column:time"`
	Price  float64 `gorm:"column:price"`
	Type   string  `gorm:"column:type"`
	Side   string  `gorm:"column:side"`
	Mode   string  `gorm:"column:mode"`
	Reason string  `gorm:"column:reason"`
}

func (markerModel) TableName() string { return "backtest_markers" }

// RunStore 用 Gorm + SQLite 持久化回测任务与成交明细。
type RunStore struct {
	db *gorm.DB
}

func Open(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &markerModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给并发 HTTP 读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 登记一个新的回测任务（初始状态 PENDING）。
func (s *RunStore) InsertRun(ctx context.Context, rec RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store 未初始化")
	}
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run_id 必填")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.Status == "" {
		rec.Status = RunStatusPending
	}
	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return err
	}
	model := runModel{
		RunID:          rec.RunID,
		Symbol:         strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Interval:       strings.ToLower(strings.TrimSpace(rec.Interval)),
		StartTime:      rec.StartTime,
		EndTime:        rec.EndTime,
		Status:         string(rec.Status),
		Params:         datatypes.JSON(paramsJSON),
		InitialCapital: rec.InitialCapital,
		CreatedAtUnix:  rec.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  rec.UpdatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateStatus 推进任务状态；失败时附带错误信息。
func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status RunStatus, errMsg string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store 未初始化")
	}
	payload := map[string]interface{}{
		"status":     string(status),
		"error":      errMsg,
		"updated_at": time.Now().UnixMilli(),
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).
		Where("run_id = ?", runID).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveResult 在单个事务里写入回测结果汇总、成交明细与事件标记。
func (s *RunStore) SaveResult(ctx context.Context, runID string, res backtest.Result) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store 未初始化")
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&runModel{}).
			Where("run_id = ?", runID).
			Updates(map[string]interface{}{
				"status":             string(RunStatusDone),
				"initial_capital":    res.InitialCapital,
				"final_real_capital": res.FinalRealCapital,
				"real_roi":           res.RealROI,
				"mdd_real":           res.MDDReal,
				"total_trades":       res.TotalTrades,
				"demotions":          res.Demotions,
				"promotions":         res.Promotions,
				"updated_at":         now,
				"finished_at":        now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrRunNotFound
		}
		if len(res.Trades) > 0 {
			trades := make([]tradeModel, 0, len(res.Trades))
			for i, t := range res.Trades {
				trades = append(trades, tradeModel{
					RunID: runID, Seq: i,
					Side: string(t.Side), Mode: string(t.Mode),
					EntryTime: t.EntryTime, EntryPrice: t.EntryPrice,
					ExitTime: t.ExitTime, ExitPrice: t.ExitPrice,
					Size: t.Size, Leverage: t.Leverage,
					ExitReason: t.ExitReason,
					PnL:        t.PnL, Fee: t.Fee, NetPnL: t.NetPnL,
				})
			}
			if err := tx.Create(&trades).Error; err != nil {
				return err
			}
		}
		if len(res.Markers) > 0 {
			markers := make([]markerModel, 0, len(res.Markers))
			for _, m := range res.Markers {
				markers = append(markers, markerModel{
					RunID: runID,
					Time:  m.Time, Price: m.Price, Type: m.Type,
					Side: string(m.Side), Mode: string(m.Mode), Reason: m.Reason,
				})
			}
			if err := tx.Create(&markers).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun 按 run_id 查询。
func (s *RunStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("run store 未初始化")
	}
	var m runModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	return runModelToRecord(m)
}

// ListRuns 按创建时间倒序返回最近的任务；symbol 可选过滤。
func (s *RunStore) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&runModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var models []runModel
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		rec, err := runModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListTrades 返回某个 run 的成交明细（按写入顺序）。
func (s *RunStore) ListTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store 未初始化")
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, backtest.Trade{
			Side:       backtest.Side(m.Side),
			Mode:       backtest.Mode(m.Mode),
			EntryTime:  m.EntryTime,
			EntryPrice: m.EntryPrice,
			ExitTime:   m.ExitTime,
			ExitPrice:  m.ExitPrice,
			Size:       m.Size,
			Leverage:   m.Leverage,
			ExitReason: m.ExitReason,
			PnL:        m.PnL,
			Fee:        m.Fee,
			NetPnL:     m.NetPnL,
		})
	}
	return out, nil
}

// ListMarkers 返回某个 run 的事件标记（按时间升序）。
func (s *RunStore) ListMarkers(ctx context.Context, runID string) ([]backtest.Marker, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store 未初始化")
	}
	var models []markerModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("time ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Marker, 0, len(models))
	for _, m := range models {
		out = append(out, backtest.Marker{
			Time:   m.Time,
			Price:  m.Price,
			Type:   m.Type,
			Side:   backtest.Side(m.Side),
			Mode:   backtest.Mode(m.Mode),
			Reason: m.Reason,
		})
	}
	return out, nil
}

func runModelToRecord(m runModel) (RunRecord, error) {
	rec := RunRecord{
		RunID:            m.RunID,
		Symbol:           m.Symbol,
		Interval:         m.Interval,
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		Status:           RunStatus(m.Status),
		Error:            m.Error,
		InitialCapital:   m.InitialCapital,
		FinalRealCapital: m.FinalRealCapital,
		RealROI:          m.RealROI,
		MDDReal:          m.MDDReal,
		TotalTrades:      m.TotalTrades,
		Demotions:        m.Demotions,
		Promotions:       m.Promotions,
		CreatedAt:        time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt:        time.UnixMilli(m.UpdatedAtUnix),
	}
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &rec.Params); err != nil {
			return RunRecord{}, fmt.Errorf("params_json 损坏: %w", err)
		}
	}
	if m.FinishedAtUnix != nil && *m.FinishedAtUnix > 0 {
		ts := time.UnixMilli(*m.FinishedAtUnix)
		rec.FinishedAt = &ts
	}
	return rec, nil
}
