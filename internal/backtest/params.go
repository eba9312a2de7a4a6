package backtest

import "fmt"

// Params 描述 EMA 交叉双模式策略的全部参数。
type Params struct {
	// EMA 窗口
	TrendFast     int `json:"trend_fast" yaml:"trend_fast"`
	TrendSlow     int `json:"trend_slow" yaml:"trend_slow"`
	EntryFast     int `json:"entry_fast" yaml:"entry_fast"`
	EntrySlow     int `json:"entry_slow" yaml:"entry_slow"`
	LongExitFast  int `json:"long_exit_fast" yaml:"long_exit_fast"`
	LongExitSlow  int `json:"long_exit_slow" yaml:"long_exit_slow"`
	ShortExitFast int `json:"short_exit_fast" yaml:"short_exit_fast"`
	ShortExitSlow int `json:"short_exit_slow" yaml:"short_exit_slow"`

	// 杠杆
	LeverageLong  float64 `json:"leverage_long" yaml:"leverage_long"`
	LeverageShort float64 `json:"leverage_short" yaml:"leverage_short"`

	// 追踪止损（相对峰值/谷值的比例）
	TrailingStopLong  float64 `json:"trailing_stop_long" yaml:"trailing_stop_long"`
	TrailingStopShort float64 `json:"trailing_stop_short" yaml:"trailing_stop_short"`

	// 降级/回升阈值：实盘回撤超过 StopLoss 比例转入影子账户，
	// 影子收益超过 ReentryGain 比例重新升级为实盘。
	StopLossRatioLong     float64 `json:"stop_loss_ratio_long" yaml:"stop_loss_ratio_long"`
	ReentryGainRatioLong  float64 `json:"reentry_gain_ratio_long" yaml:"reentry_gain_ratio_long"`
	StopLossRatioShort    float64 `json:"stop_loss_ratio_short" yaml:"stop_loss_ratio_short"`
	ReentryGainRatioShort float64 `json:"reentry_gain_ratio_short" yaml:"reentry_gain_ratio_short"`

	// 双向共用阈值时取保守值（较小者）。
	ConservativeSharedThresholds bool `json:"conservative_shared_thresholds" yaml:"conservative_shared_thresholds"`

	// 仓位与费用
	CapitalUseRatio float64 `json:"capital_use_ratio" yaml:"capital_use_ratio"`
	FeeRatePerSide  float64 `json:"fee_rate_per_side" yaml:"fee_rate_per_side"`

	// 模式切换时是否重置实盘峰值
	ResetRealPeakOnPromote bool `json:"reset_real_peak_on_promote" yaml:"reset_real_peak_on_promote"`
	ResetRealPeakOnDemote  bool `json:"reset_real_peak_on_demote" yaml:"reset_real_peak_on_demote"`

	LongOnly bool `json:"long_only" yaml:"long_only"`
}

// DefaultParams 返回原始策略的缺省参数。
func DefaultParams() Params {
	return Params{
		TrendFast:     150,
		TrendSlow:     200,
		EntryFast:     20,
		EntrySlow:     50,
		LongExitFast:  20,
		LongExitSlow:  100,
		ShortExitFast: 100,
		ShortExitSlow: 200,

		LeverageLong:  10,
		LeverageShort: 3,

		TrailingStopLong:  0.10,
		TrailingStopShort: 0.02,

		StopLossRatioLong:     0.20,
		ReentryGainRatioLong:  0.30,
		StopLossRatioShort:    0.10,
		ReentryGainRatioShort: 0.20,

		ConservativeSharedThresholds: true,

		CapitalUseRatio: 0.50,
		FeeRatePerSide:  0.0005,

		ResetRealPeakOnPromote: true,
		ResetRealPeakOnDemote:  true,

		LongOnly: true,
	}
}

// Validate 做入场前的参数一致性检查。
func (p Params) Validate() error {
	windows := map[string]int{
		"trend_fast": p.TrendFast, "trend_slow": p.TrendSlow,
		"entry_fast": p.EntryFast, "entry_slow": p.EntrySlow,
		"long_exit_fast": p.LongExitFast, "long_exit_slow": p.LongExitSlow,
		"short_exit_fast": p.ShortExitFast, "short_exit_slow": p.ShortExitSlow,
	}
	for name, w := range windows {
		if w <= 0 {
			return fmt.Errorf("EMA 窗口 %s 必须为正数: %d", name, w)
		}
	}
	if p.LeverageLong <= 0 || p.LeverageShort <= 0 {
		return fmt.Errorf("杠杆必须为正数")
	}
	if p.CapitalUseRatio <= 0 || p.CapitalUseRatio > 1 {
		return fmt.Errorf("capital_use_ratio 必须在 (0,1] 内: %v", p.CapitalUseRatio)
	}
	if p.FeeRatePerSide < 0 {
		return fmt.Errorf("fee_rate_per_side 不能为负")
	}
	return nil
}

// warmupBars 返回指标进入稳定区前需要跳过的根数。
func (p Params) warmupBars() int {
	idx := p.TrendSlow
	for _, w := range []int{p.ShortExitSlow, p.LongExitSlow, p.EntrySlow} {
		if w > idx {
			idx = w
		}
	}
	return idx
}
