package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"crossbt/internal/backtest"
)

// Save 把参数组写回 YAML 文件，结构与 Loader 读取的格式一致。
func Save(path string, profiles map[string]Definition) error {
	if len(profiles) == 0 {
		return fmt.Errorf("至少需要一个 profile")
	}
	doc := map[string]map[string]Definition{"profiles": profiles}
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

// Skeleton 返回一份可直接落盘的起步参数组。
func Skeleton() map[string]Definition {
	return map[string]Definition{
		"btc_main": {
			Symbol:         "BTCUSDT",
			Interval:       "30m",
			InitialCapital: 10000,
			Params:         backtest.DefaultParams(),
			Default:        true,
		},
	}
}
