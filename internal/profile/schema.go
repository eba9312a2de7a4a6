package profile

// profileSchemaSource 约束单个 profile 的结构；语义细节（周期合法性、
// 参数一致性）由 decodeProfile 阶段检查。
const profileSchemaSource = `{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "interval": {"type": "string", "minLength": 1},
    "initial_capital": {"type": "number", "exclusiveMinimum": 0},
    "default": {"type": "boolean"},
    "params": {
      "type": "object",
      "properties": {
        "trend_fast": {"type": "integer", "minimum": 1},
        "trend_slow": {"type": "integer", "minimum": 1},
        "entry_fast": {"type": "integer", "minimum": 1},
        "entry_slow": {"type": "integer", "minimum": 1},
        "long_exit_fast": {"type": "integer", "minimum": 1},
        "long_exit_slow": {"type": "integer", "minimum": 1},
        "short_exit_fast": {"type": "integer", "minimum": 1},
        "short_exit_slow": {"type": "integer", "minimum": 1},
        "leverage_long": {"type": "number", "exclusiveMinimum": 0},
        "leverage_short": {"type": "number", "exclusiveMinimum": 0},
        "trailing_stop_long": {"type": "number", "minimum": 0, "maximum": 1},
        "trailing_stop_short": {"type": "number", "minimum": 0, "maximum": 1},
        "stop_loss_ratio_long": {"type": "number", "minimum": 0, "maximum": 1},
        "reentry_gain_ratio_long": {"type": "number", "minimum": 0},
        "stop_loss_ratio_short": {"type": "number", "minimum": 0, "maximum": 1},
        "reentry_gain_ratio_short": {"type": "number", "minimum": 0},
        "conservative_shared_thresholds": {"type": "boolean"},
        "capital_use_ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "fee_rate_per_side": {"type": "number", "minimum": 0},
        "reset_real_peak_on_promote": {"type": "boolean"},
        "reset_real_peak_on_demote": {"type": "boolean"},
        "long_only": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  },
  "required": ["symbol", "interval"],
  "additionalProperties": false
}`
