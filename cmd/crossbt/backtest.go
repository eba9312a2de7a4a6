package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crossbt/internal/app"
	"crossbt/internal/backtest"
	"crossbt/internal/export"
	"crossbt/internal/logger"
	"crossbt/internal/market"
	"crossbt/internal/report"
	"crossbt/internal/server"
	"crossbt/internal/store/runstore"
)

func newBacktestCmd() *cobra.Command {
	var (
		profileName string
		symbol      string
		interval    string
		startStr    string
		endStr      string
		capital     float64
		skipFetch   bool
		reportPath  string
		pngPath     string
		tradesPath  string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "对本地缓存执行 EMA 交叉双模式回测并输出报表",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTimeFlag(startStr)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := parseTimeFlag(endStr)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			svc := a.Service()
			svc.SetContext(ctx)

			params := backtest.DefaultParams()
			initialCapital := cfg.Backtest.InitialCapital
			if loader := a.Profiles(); loader != nil {
				def, ok := loader.Get(profileName)
				if !ok && profileName == "" {
					def, ok = loader.DefaultProfile()
				}
				if profileName != "" && !ok {
					return fmt.Errorf("未找到参数组: %s", profileName)
				}
				if ok {
					params = def.Params
					initialCapital = def.InitialCapital
					if symbol == "" {
						symbol = def.Symbol
					}
					if interval == "" {
						interval = def.Interval
					}
					logger.Infof("[backtest] 使用参数组 %s", def.Name)
				}
			} else if profileName != "" {
				return fmt.Errorf("配置未启用 profiles，无法使用 --profile")
			}
			if symbol == "" {
				return fmt.Errorf("缺少交易对：通过 --symbol 或参数组指定")
			}
			if interval == "" {
				interval = cfg.Fetch.Interval
			}
			if capital > 0 {
				initialCapital = capital
			}

			if !skipFetch {
				job, err := svc.SubmitFetch(server.FetchParams{
					Symbol:   symbol,
					Interval: interval,
					Start:    start,
					End:      end,
				})
				if err != nil {
					return err
				}
				job, err = waitFetchJob(ctx, svc, job.ID)
				if err != nil {
					return err
				}
				if job.Status == server.JobStatusFailed {
					return fmt.Errorf("补齐数据失败: %s", job.Message)
				}
				if job.Status == server.JobStatusPartial {
					logger.Warnf("[backtest] 缓存仍有 %d 个缺口，按现有数据回测", len(job.Missing))
				}
			}

			rec, err := svc.SubmitRun(server.RunParams{
				Symbol:         symbol,
				Interval:       interval,
				Start:          start,
				End:            end,
				InitialCapital: initialCapital,
				Params:         params,
			})
			if err != nil {
				return err
			}
			rec, err = waitRun(ctx, svc, rec.RunID)
			if err != nil {
				return err
			}
			if rec.Status != runstore.RunStatusDone {
				return fmt.Errorf("回测失败: %s", rec.Error)
			}
			res, ok := svc.RunResult(rec.RunID)
			if !ok {
				return fmt.Errorf("回测结果缺失: %s", rec.RunID)
			}

			iv, err := market.ParseInterval(rec.Interval)
			if err != nil {
				return err
			}
			step := iv.Millis()
			stats := map[backtest.ModeFilter]backtest.TradeStats{
				backtest.FilterAll:    backtest.Analyze(res.Trades, backtest.FilterAll, step),
				backtest.FilterReal:   backtest.Analyze(res.Trades, backtest.FilterReal, step),
				backtest.FilterShadow: backtest.Analyze(res.Trades, backtest.FilterShadow, step),
			}
			backtest.RenderSummary(os.Stdout, res, stats)

			if tradesPath != "" {
				if err := export.SaveTradesCSV(tradesPath, res.Trades); err != nil {
					return err
				}
				logger.Infof("[backtest] 成交明细已写入 %s", tradesPath)
			}
			if reportPath != "" || pngPath != "" {
				candles, err := svc.QueryCandles(ctx, rec.Symbol, rec.Interval, start, end)
				if err != nil {
					return err
				}
				input := report.Input{
					Symbol:   rec.Symbol,
					Interval: rec.Interval,
					Candles:  candles,
					Result:   res,
				}
				if reportPath != "" {
					if err := report.SaveHTML(reportPath, input); err != nil {
						return err
					}
					logger.Infof("[backtest] 报告页面已写入 %s", reportPath)
				}
				if pngPath != "" {
					img, err := report.RenderPNG(ctx, input)
					if err != nil {
						return err
					}
					if err := os.WriteFile(pngPath, img.Bytes, 0o644); err != nil {
						return err
					}
					logger.Infof("[backtest] 报告截图已写入 %s", pngPath)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileName, "profile", "", "使用 profiles 文件中的参数组")
	cmd.Flags().StringVar(&symbol, "symbol", "", "交易对，例如 BTCUSDT")
	cmd.Flags().StringVar(&interval, "interval", "", "K 线周期（缺省取配置 fetch.interval）")
	cmd.Flags().StringVar(&startStr, "start", "", "区间起点（含）")
	cmd.Flags().StringVar(&endStr, "end", "now", "区间终点（不含）")
	cmd.Flags().Float64Var(&capital, "capital", 0, "初始资金（覆盖配置/参数组）")
	cmd.Flags().BoolVar(&skipFetch, "no-fetch", false, "跳过缺口补齐，只用已有缓存")
	cmd.Flags().StringVar(&reportPath, "report", "", "输出 HTML 报告路径")
	cmd.Flags().StringVar(&pngPath, "png", "", "输出 PNG 报告截图路径（需要本机 Chrome）")
	cmd.Flags().StringVar(&tradesPath, "trades", "", "输出成交明细 CSV 路径")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

// waitRun 轮询回测任务直到进入终态。
func waitRun(ctx context.Context, svc *server.Service, runID string) (runstore.RunRecord, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := svc.GetRun(ctx, runID)
		if err != nil {
			return runstore.RunRecord{}, err
		}
		switch rec.Status {
		case runstore.RunStatusPending, runstore.RunStatusRunning:
		default:
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
