package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crossbt/internal/config"
	"crossbt/internal/logger"
)

var (
	cfgPath string
	logPath string
	cfg     *config.Config
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:           "crossbt",
	Short:         "币安 K 线增量缓存与 EMA 交叉双模式回测",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = os.Getenv("CROSSBT_CONFIG")
		}
		if path == "" {
			if _, err := os.Stat("configs/config.yaml"); err == nil {
				path = "configs/config.yaml"
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("读取配置失败: %w", err)
		}
		logFile, err = setupLogOutput(logPath)
		if err != nil {
			return fmt.Errorf("初始化日志文件失败: %w", err)
		}
		logger.SetLevel(cfg.App.LogLevel)
		if path != "" {
			logger.Infof("✓ 配置加载成功（%s）", path)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

// parseTimeFlag 解析时间参数：毫秒时间戳、2006-01-02 日期或 RFC3339，
// 以及特殊值 now。日期按 UTC 零点处理。
func parseTimeFlag(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("时间参数不能为空")
	}
	if strings.EqualFold(s, "now") {
		return time.Now().UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().UnixMilli(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().UnixMilli(), nil
	}
	return 0, fmt.Errorf("无法解析时间: %s（支持毫秒时间戳 / 2006-01-02 / RFC3339 / now）", input)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "配置文件路径（缺省 configs/config.yaml）")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "", "同时把日志写入文件")
	rootCmd.AddCommand(newFetchCmd(), newBacktestCmd(), newServeCmd(), newInitCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
