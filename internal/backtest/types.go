package backtest

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Mode 区分实盘账户与影子账户。影子模式下策略照常跟踪行情，
// 但盈亏只记在虚拟基准上，不动用真实资金。
type Mode string

const (
	ModeReal   Mode = "REAL"
	ModeShadow Mode = "SHADOW"
)

// 事件类型
const (
	MarkerEntry      = "ENTRY"
	MarkerExit       = "EXIT"
	MarkerModeSwitch = "MODE_SWITCH"
)

// Position 表示一笔活跃持仓。
type Position struct {
	Side        Side    `json:"side"`
	Mode        Mode    `json:"mode"`
	EntryTime   int64   `json:"entry_time"`
	EntryPrice  float64 `json:"entry_price"`
	Size        float64 `json:"size"`
	Leverage    float64 `json:"leverage"`
	PeakPrice   float64 `json:"peak_price"`
	TroughPrice float64 `json:"trough_price"`

	// 自本金连续性校验用
	EntryCapital  float64 `json:"entry_capital"`
	EntryNotional float64 `json:"entry_notional"`
}

// Trade 表示一笔已完成的往返交易。
type Trade struct {
	Side       Side    `json:"side"`
	Mode       Mode    `json:"mode"`
	EntryTime  int64   `json:"entry_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitTime   int64   `json:"exit_time"`
	ExitPrice  float64 `json:"exit_price"`
	Size       float64 `json:"size"`
	Leverage   float64 `json:"leverage"`
	ExitReason string  `json:"exit_reason"`
	PnL        float64 `json:"pnl"`
	Fee        float64 `json:"fee"`
	NetPnL     float64 `json:"net_pnl"`

	EntryCapital     float64 `json:"entry_capital"`
	EntryNotional    float64 `json:"entry_notional"`
	ExitCapitalAfter float64 `json:"exit_capital_after"`
}

// PnLPct 返回相对入场本金的净收益率（%）。
func (t Trade) PnLPct() float64 {
	if t.EntryCapital <= 0 {
		return 0
	}
	return t.NetPnL / t.EntryCapital * 100
}

// HoldingBars 估算持仓根数（按给定周期毫秒步长）。
func (t Trade) HoldingBars(stepMS int64) int {
	if stepMS <= 0 || t.ExitTime <= t.EntryTime {
		return 1
	}
	bars := int((t.ExitTime - t.EntryTime) / stepMS)
	if bars < 1 {
		return 1
	}
	return bars
}

// Marker 是供图表/下游消费的进出场与模式切换事件，按时间顺序产出。
type Marker struct {
	Time   int64   `json:"time"`
	Price  float64 `json:"price"`
	Type   string  `json:"type"`
	Side   Side    `json:"side,omitempty"`
	Mode   Mode    `json:"mode,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// EquityPoint 记录资金曲线上的一个采样点。
type EquityPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}
