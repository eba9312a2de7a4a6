package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crossbt/internal/app"
	"crossbt/internal/logger"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "以 HTTP 服务方式运行：拉取与回测都走接口",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Server.Enabled = true
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Infof("[serve] HTTP 服务启动于 %s", cfg.Server.Addr)
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（覆盖配置 server.addr）")
	return cmd
}
