package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"crossbt/internal/config"
	"crossbt/internal/logger"
	"crossbt/internal/profile"
	"crossbt/internal/server"
	"crossbt/internal/store"
	"crossbt/internal/store/runstore"
)

// App 负责应用级编排：加载配置→初始化依赖→启动服务。
type App struct {
	cfg         *config.Config
	svc         *server.Service
	httpSrv     *server.HTTPServer
	candleStore *store.CandleStore
	runs        *runstore.RunStore
	profiles    *profile.Loader
	Summary     *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Service 暴露编排服务（CLI 子命令与测试使用）。
func (a *App) Service() *server.Service {
	if a == nil {
		return nil
	}
	return a.svc
}

// Profiles 返回参数组加载器；未配置 profiles.path 时为 nil。
func (a *App) Profiles() *profile.Loader {
	if a == nil {
		return nil
	}
	return a.profiles
}

// Run 启动 HTTP 服务并监听 profile 热更新，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.svc.SetContext(ctx)

	if a.profiles != nil {
		a.profiles.Subscribe(func(snap profile.Snapshot) {
			logger.Infow("[profiles] 参数组已加载", "version", snap.Version, "count", len(snap.Profiles))
		})
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	} else {
		group.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

// Close 释放底层存储。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.candleStore != nil {
		_ = a.candleStore.Close()
	}
	if a.runs != nil {
		_ = a.runs.Close()
	}
}
