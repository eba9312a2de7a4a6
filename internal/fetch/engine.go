package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crossbt/internal/logger"
	"crossbt/internal/market"
)

const backoffCap = 30 * time.Second

// Options 配置 Engine 的分页与重试行为。
type Options struct {
	Interval       string
	Limit          int
	MaxAttempts    int
	InterPageDelay time.Duration
}

// Engine 驱动分页/重试循环：持有时间游标，产出完整、无缝、按
// OpenTime 升序的 K 线序列。单次 Fetch 内部无并发，每页之间串行推进；
// 跨调用无共享可变状态，可安全地在独立调用间复用。
type Engine struct {
	source PageSource
	opts   Options

	// sleep 可注入，保证退避/限速等待在测试中可观测、在运行时可被 ctx 打断。
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(source PageSource, opts Options) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	if opts.Limit < 1 || opts.Limit > 1000 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, opts.Limit)
	}
	if opts.Interval == "" {
		opts.Interval = "30m"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.InterPageDelay < 0 {
		opts.InterPageDelay = 0
	}
	return &Engine{
		source: source,
		opts:   opts,
		sleep:  sleepCtx,
	}, nil
}

// Fetch 拉取 [startMS,endMS) 区间内的全部 K 线。
// start >= end 视为窗口已耗尽：直接返回空序列，不发起任何网络请求。
// 任何一页重试预算耗尽都会丢弃已累积的结果并返回 *FetchFailedError——
// 单次调用的契约是全量或失败；调用方若要续传，应以最后成功时间戳+1 重新发起。
func (e *Engine) Fetch(ctx context.Context, symbol string, startMS, endMS int64) ([]market.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if startMS >= endMS {
		return nil, nil
	}

	var out []market.Candle
	cursor := startMS
	for cursor < endMS {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.fetchPage(ctx, Request{
			Symbol:   symbol,
			Interval: e.opts.Interval,
			Start:    cursor,
			End:      endMS,
			Limit:    e.opts.Limit,
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			// 上游在区间内没有更多数据，属正常收尾。
			logger.Debugf("[fetch] %s 在 [%d,%d) 内无更多数据，提前结束", symbol, cursor, endMS)
			break
		}
		kept := clampToWindow(page, endMS)
		out = append(out, kept...)
		if len(kept) == 0 {
			break
		}
		cursor = kept[len(kept)-1].OpenTime + 1
		if cursor >= endMS {
			break
		}
		// 页间礼貌性等待，终止页不再等待。
		if e.opts.InterPageDelay > 0 {
			if err := e.sleep(ctx, e.opts.InterPageDelay); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// fetchPage 执行单页请求，每页最多 MaxAttempts 次尝试。
// 失败尝试之间按 min(2^attempt, 30) 秒退避；限流响应与普通错误同等消耗预算。
// 畸形响应体（*ParseError）是上游契约破坏，立即终止整次拉取而不重试。
func (e *Engine) fetchPage(ctx context.Context, req Request) ([]market.Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		page, err := e.source.Page(ctx, req)
		if err == nil {
			return page, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		var perr *ParseError
		if errors.As(err, &perr) {
			logger.Errorf("[fetch] %s 响应体畸形，终止拉取: %v", e.source.Name(), err)
			return nil, err
		}
		lastErr = err
		if attempt == e.opts.MaxAttempts {
			break
		}
		wait := backoffDelay(attempt)
		logger.Warnf("[fetch] %s 第 %d/%d 次尝试失败（%v），%s 后重试", e.source.Name(), attempt, e.opts.MaxAttempts, err, wait)
		if serr := e.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
	return nil, &FetchFailedError{Attempts: e.opts.MaxAttempts, Cause: lastErr}
}

// backoffDelay 返回第 attempt 次失败后的等待时长：min(2^attempt, 30) 秒。
func backoffDelay(attempt int) time.Duration {
	if attempt >= 5 {
		return backoffCap
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// clampToWindow 丢弃 open time 越过窗口右界的行。上游的 endTime 语义是
// 闭区间，这里收紧为半开区间，保证结果满足 open_time < end。
func clampToWindow(page []market.Candle, endMS int64) []market.Candle {
	n := len(page)
	for n > 0 && page[n-1].OpenTime >= endMS {
		n--
	}
	return page[:n]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
