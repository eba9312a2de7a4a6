package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crossbt/internal/backtest"
	"crossbt/internal/fetch"
	"crossbt/internal/logger"
	"crossbt/internal/market"
	"crossbt/internal/store"
	"crossbt/internal/store/runstore"
)

// 任务状态
const (
	JobStatusPending = "PENDING"
	JobStatusRunning = "RUNNING"
	JobStatusDone    = "DONE"
	JobStatusPartial = "PARTIAL"
	JobStatusFailed  = "FAILED"
)

// FetchParams 描述一次增量拉取请求。
type FetchParams struct {
	Source   string `json:"source,omitempty"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// FetchJob 是拉取任务的可观测快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Missing   []store.Gap `json:"missing,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	cp := *j
	cp.Missing = append([]store.Gap{}, j.Missing...)
	cp.Warnings = append([]string{}, j.Warnings...)
	return cp
}

// RunParams 描述一次回测请求。
type RunParams struct {
	Symbol         string          `json:"symbol"`
	Interval       string          `json:"interval"`
	Start          int64           `json:"start"`
	End            int64           `json:"end"`
	InitialCapital float64         `json:"initial_capital"`
	Params         backtest.Params `json:"params"`
}

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Store         *store.CandleStore
	Runs          *runstore.RunStore
	Sources       map[string]fetch.PageSource
	DefaultSource string

	FetchLimit      int
	MaxAttempts     int
	InterPageDelay  time.Duration
	RateLimitPerMin int
	MaxConcurrent   int
}

// Service 协调拉取任务与回测任务：缺口驱动增量补抓，回测结果入库。
type Service struct {
	store         *store.CandleStore
	runs          *runstore.RunStore
	sources       map[string]fetch.PageSource
	defaultSource string

	fetchLimit     int
	maxAttempts    int
	interPageDelay time.Duration

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	resMu   sync.RWMutex
	results map[string]backtest.Result

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	fetchLimit := cfg.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:          cfg.Store,
		runs:           cfg.Runs,
		sources:        make(map[string]fetch.PageSource),
		defaultSource:  strings.ToLower(cfg.DefaultSource),
		fetchLimit:     fetchLimit,
		maxAttempts:    cfg.MaxAttempts,
		interPageDelay: cfg.InterPageDelay,
		limiter:        rate.NewLimiter(ratePerSec, 1),
		sem:            make(chan struct{}, maxConcurrent),
		jobs:           make(map[string]*FetchJob),
		results:        make(map[string]backtest.Result),
		baseCtx:        context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultSource == "" {
		for k := range svc.sources {
			svc.defaultSource = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SubmitFetch 提交增量拉取任务；区间已完整时直接返回 DONE。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	iv, err := market.ParseInterval(params.Interval)
	if err != nil {
		return FetchJob{}, err
	}
	params.Interval = iv.Key
	if params.Start >= params.End {
		return FetchJob{}, fmt.Errorf("%w: [%d,%d)", fetch.ErrInvalidRange, params.Start, params.End)
	}
	sourceName := strings.ToLower(params.Source)
	if sourceName == "" {
		sourceName = s.defaultSource
	}
	src := s.sources[sourceName]
	if src == nil {
		return FetchJob{}, fmt.Errorf("未知数据源: %s", params.Source)
	}
	params.Source = sourceName

	gaps, err := s.store.Gaps(s.ctx(), params.Symbol, params.Interval, params.Start, params.End)
	if err != nil {
		return FetchJob{}, err
	}
	total := iv.ExpectedCandles(params.Start, params.End)
	var missing int64
	for _, g := range gaps {
		missing += iv.ExpectedCandles(g.Start, g.End)
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     total,
		Completed: total - missing,
		Missing:   append([]store.Gap{}, gaps...),
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infow("[fetch] 任务提交",
		"job", job.ID, "symbol", params.Symbol, "interval", params.Interval,
		"start", params.Start, "end", params.End, "expected", total, "gaps", len(gaps))

	if len(gaps) == 0 {
		s.setJobStatus(job.ID, JobStatusDone, "数据已完整，无需重新拉取", nil)
		return s.mustSnapshot(job.ID), nil
	}
	go s.runFetchJob(job.ID, iv, gaps, src)
	return job.copy(), nil
}

func (s *Service) runFetchJob(jobID string, iv market.Interval, gaps []store.Gap, source fetch.PageSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "服务已关闭", nil)
		return
	}
	defer func() { <-s.sem }()

	job, ok := s.JobSnapshot(jobID)
	if !ok {
		return
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	engine, err := fetch.NewEngine(source, fetch.Options{
		Interval:       iv.Key,
		Limit:          s.fetchLimit,
		MaxAttempts:    s.maxAttempts,
		InterPageDelay: s.interPageDelay,
	})
	if err != nil {
		s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
		return
	}

	ctx := s.ctx()
	params := job.Params
	var warnings []string
	for _, gap := range gaps {
		if err := ctx.Err(); err != nil {
			s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
			return
		}
		candles, err := engine.Fetch(ctx, params.Symbol, gap.Start, gap.End)
		if err != nil {
			s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s 拉取失败: %v", source.Name(), err), nil)
			return
		}
		if len(candles) == 0 {
			warnings = append(warnings, fmt.Sprintf("区间 [%d,%d) 拉取为空", gap.Start, gap.End))
			continue
		}
		inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Interval, candles)
		if err != nil {
			s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("写入失败: %v", err), nil)
			return
		}
		s.updateJob(jobID, func(j *FetchJob) {
			j.Completed += int64(inserted)
			j.UpdatedAt = time.Now()
		})
	}

	finalGaps, err := s.store.Gaps(ctx, params.Symbol, params.Interval, params.Start, params.End)
	status := JobStatusDone
	message := "拉取完成"
	if err != nil {
		status = JobStatusFailed
		message = "完整性检查失败: " + err.Error()
	} else if len(finalGaps) > 0 {
		status = JobStatusPartial
		message = "已完成，但仍存在缺口"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]store.Gap{}, finalGaps...)
		j.Warnings = append([]string{}, warnings...)
		j.UpdatedAt = time.Now()
	})
	logger.Infow("[fetch] 任务完成", "job", jobID, "status", status, "missing", len(finalGaps))
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []store.Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		if gaps != nil {
			j.Missing = append([]store.Gap{}, gaps...)
		}
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

func (s *Service) mustSnapshot(id string) FetchJob {
	job, _ := s.JobSnapshot(id)
	return job
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地缓存的统计信息。
func (s *Service) ManifestInfo(ctx context.Context, symbol, interval string) (store.Manifest, error) {
	if symbol == "" || interval == "" {
		return store.Manifest{}, errors.New("symbol/interval 不能为空")
	}
	return s.store.Manifest(ctx, symbol, interval)
}

// QueryCandles 读取半开区间 [start,end) 的 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errors.New("symbol/interval 不能为空")
	}
	return s.store.RangeCandles(ctx, symbol, interval, start, end)
}

// AllCandles 返回完整数据集。
func (s *Service) AllCandles(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errors.New("symbol/interval 不能为空")
	}
	return s.store.AllCandles(ctx, symbol, interval)
}

// SubmitRun 登记并异步执行一次回测。
func (s *Service) SubmitRun(params RunParams) (runstore.RunRecord, error) {
	if s.runs == nil {
		return runstore.RunRecord{}, errors.New("run store 未启用")
	}
	if params.Symbol == "" {
		return runstore.RunRecord{}, errors.New("symbol 不能为空")
	}
	iv, err := market.ParseInterval(params.Interval)
	if err != nil {
		return runstore.RunRecord{}, err
	}
	params.Interval = iv.Key
	if params.Start >= params.End {
		return runstore.RunRecord{}, fmt.Errorf("%w: [%d,%d)", fetch.ErrInvalidRange, params.Start, params.End)
	}
	if params.InitialCapital <= 0 {
		params.InitialCapital = 10000
	}
	if err := params.Params.Validate(); err != nil {
		return runstore.RunRecord{}, err
	}
	rec := runstore.RunRecord{
		RunID:          uuid.NewString(),
		Symbol:         strings.ToUpper(params.Symbol),
		Interval:       params.Interval,
		StartTime:      params.Start,
		EndTime:        params.End,
		Status:         runstore.RunStatusPending,
		Params:         params.Params,
		InitialCapital: params.InitialCapital,
	}
	if err := s.runs.InsertRun(s.ctx(), rec); err != nil {
		return runstore.RunRecord{}, err
	}
	logger.Infof("[backtest] 回测 %s 提交：%s %s [%d,%d)", rec.RunID, rec.Symbol, rec.Interval, rec.StartTime, rec.EndTime)
	go s.executeRun(rec.RunID, params, iv)
	return rec, nil
}

func (s *Service) executeRun(runID string, params RunParams, iv market.Interval) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		_ = s.runs.UpdateStatus(context.Background(), runID, runstore.RunStatusCanceled, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	if err := s.runs.UpdateStatus(ctx, runID, runstore.RunStatusRunning, ""); err != nil {
		logger.Errorf("[backtest] 回测 %s 状态更新失败: %v", runID, err)
		return
	}
	candles, err := s.store.RangeCandles(ctx, params.Symbol, params.Interval, params.Start, params.End)
	if err != nil {
		_ = s.runs.UpdateStatus(ctx, runID, runstore.RunStatusFailed, "读取缓存失败: "+err.Error())
		return
	}
	engine, err := backtest.NewEngine(params.Params, params.InitialCapital)
	if err != nil {
		_ = s.runs.UpdateStatus(ctx, runID, runstore.RunStatusFailed, err.Error())
		return
	}
	res, err := engine.Run(candles)
	if err != nil {
		_ = s.runs.UpdateStatus(ctx, runID, runstore.RunStatusFailed, err.Error())
		return
	}
	if err := s.runs.SaveResult(ctx, runID, res); err != nil {
		_ = s.runs.UpdateStatus(ctx, runID, runstore.RunStatusFailed, "结果写入失败: "+err.Error())
		return
	}
	s.resMu.Lock()
	s.results[runID] = res
	s.resMu.Unlock()
	logger.Infof("[backtest] 回测 %s 完成：交易 %d 笔 ROI %.2f%%", runID, res.TotalTrades, res.RealROI)
}

// RunResult 返回内存中的完整回测结果（含资金曲线），仅本进程生命周期内有效。
func (s *Service) RunResult(runID string) (backtest.Result, bool) {
	s.resMu.RLock()
	defer s.resMu.RUnlock()
	res, ok := s.results[runID]
	return res, ok
}

// GetRun 查询回测任务记录。
func (s *Service) GetRun(ctx context.Context, runID string) (runstore.RunRecord, error) {
	if s.runs == nil {
		return runstore.RunRecord{}, errors.New("run store 未启用")
	}
	return s.runs.GetRun(ctx, runID)
}

// ListRuns 查询最近的回测任务。
func (s *Service) ListRuns(ctx context.Context, symbol string, limit int) ([]runstore.RunRecord, error) {
	if s.runs == nil {
		return nil, errors.New("run store 未启用")
	}
	return s.runs.ListRuns(ctx, symbol, limit)
}

// ListTrades 查询某次回测的成交明细。
func (s *Service) ListTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	if s.runs == nil {
		return nil, errors.New("run store 未启用")
	}
	return s.runs.ListTrades(ctx, runID)
}

// ListMarkers 查询某次回测的事件标记。
func (s *Service) ListMarkers(ctx context.Context, runID string) ([]backtest.Marker, error) {
	if s.runs == nil {
		return nil, errors.New("run store 未启用")
	}
	return s.runs.ListMarkers(ctx, runID)
}
