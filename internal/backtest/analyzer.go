package backtest

import (
	"fmt"
	"io"
	"math"

	"github.com/olekukonko/tablewriter"
)

// ModeFilter 选择参与统计的交易范围。
type ModeFilter string

const (
	FilterAll    ModeFilter = "ALL"
	FilterReal   ModeFilter = "REAL"
	FilterShadow ModeFilter = "SHADOW"
)

// TradeStats 是按模式过滤后的交易统计。
type TradeStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	TotalPnL  float64 `json:"total_pnl"`
	TotalFees float64 `json:"total_fees"`
	NetPnL    float64 `json:"net_pnl"`

	AvgProfit    float64 `json:"avg_profit"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`

	MaxProfit float64 `json:"max_profit"`
	MaxLoss   float64 `json:"max_loss"`

	AvgHoldingBars float64 `json:"avg_holding_bars"`
	MaxConsecWins  int     `json:"max_consecutive_wins"`
	MaxConsecLoss  int     `json:"max_consecutive_losses"`
}

// Analyze 计算给定交易列表的统计指标；stepMS 为执行周期的毫秒步长。
func Analyze(trades []Trade, filter ModeFilter, stepMS int64) TradeStats {
	var selected []Trade
	for _, t := range trades {
		if filter == FilterAll || Mode(filter) == t.Mode {
			selected = append(selected, t)
		}
	}
	stats := TradeStats{TotalTrades: len(selected)}
	if len(selected) == 0 {
		return stats
	}

	var grossProfit, grossLoss, holdingSum float64
	for _, t := range selected {
		stats.TotalPnL += t.PnL
		stats.TotalFees += t.Fee
		stats.NetPnL += t.NetPnL
		holdingSum += float64(t.HoldingBars(stepMS))
		if t.NetPnL > 0 {
			stats.WinningTrades++
			grossProfit += t.NetPnL
		} else {
			stats.LosingTrades++
			grossLoss += -t.NetPnL
		}
		if t.NetPnL > stats.MaxProfit {
			stats.MaxProfit = t.NetPnL
		}
		if t.NetPnL < stats.MaxLoss {
			stats.MaxLoss = t.NetPnL
		}
	}
	stats.WinRate = float64(stats.WinningTrades) / float64(len(selected)) * 100
	if stats.WinningTrades > 0 {
		stats.AvgProfit = grossProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = -grossLoss / float64(stats.LosingTrades)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		stats.ProfitFactor = math.Inf(1)
	}
	stats.AvgHoldingBars = holdingSum / float64(len(selected))
	stats.MaxConsecWins, stats.MaxConsecLoss = consecutiveRuns(selected)
	return stats
}

// consecutiveRuns 返回最长连胜与最长连亏。
func consecutiveRuns(trades []Trade) (maxWins, maxLosses int) {
	wins, losses := 0, 0
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins++
			losses = 0
		} else {
			losses++
			wins = 0
		}
		if wins > maxWins {
			maxWins = wins
		}
		if losses > maxLosses {
			maxLosses = losses
		}
	}
	return
}

// RenderSummary 将回测结果与统计打印为控制台表格。
func RenderSummary(w io.Writer, res Result, stats map[ModeFilter]TradeStats) {
	overview := tablewriter.NewWriter(w)
	overview.SetHeader([]string{"指标", "数值"})
	overview.SetBorder(false)
	overview.Append([]string{"初始资金", fmt.Sprintf("%.2f", res.InitialCapital)})
	overview.Append([]string{"期末实盘资金", fmt.Sprintf("%.2f", res.FinalRealCapital)})
	overview.Append([]string{"实盘收益率", fmt.Sprintf("%.2f%%", res.RealROI)})
	overview.Append([]string{"实盘最大回撤", fmt.Sprintf("%.2f%%", res.MDDReal)})
	overview.Append([]string{"胜率", fmt.Sprintf("%.2f%%", res.WinRate())})
	overview.Append([]string{"交易笔数", fmt.Sprintf("%d (实盘 %d / 影子 %d)", res.TotalTrades, res.RealTrades, res.ShadowTrades)})
	overview.Append([]string{"降级/升级次数", fmt.Sprintf("%d / %d", res.Demotions, res.Promotions)})
	overview.Render()

	for _, filter := range []ModeFilter{FilterAll, FilterReal, FilterShadow} {
		s, ok := stats[filter]
		if !ok || s.TotalTrades == 0 {
			continue
		}
		fmt.Fprintf(w, "\n[%s]\n", filter)
		tbl := tablewriter.NewWriter(w)
		tbl.SetHeader([]string{"笔数", "胜率", "净盈亏", "手续费", "盈亏比", "最长连胜", "最长连亏"})
		tbl.SetBorder(false)
		tbl.Append([]string{
			fmt.Sprintf("%d", s.TotalTrades),
			fmt.Sprintf("%.1f%%", s.WinRate),
			fmt.Sprintf("%.2f", s.NetPnL),
			fmt.Sprintf("%.2f", s.TotalFees),
			formatProfitFactor(s.ProfitFactor),
			fmt.Sprintf("%d", s.MaxConsecWins),
			fmt.Sprintf("%d", s.MaxConsecLoss),
		})
		tbl.Render()
	}
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
