package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"crossbt/internal/config"
	"crossbt/internal/fetch"
	"crossbt/internal/logger"
	"crossbt/internal/profile"
	"crossbt/internal/server"
	"crossbt/internal/store"
	"crossbt/internal/store/runstore"
)

type AppBuilder struct {
	cfg *config.Config

	sourcesFn func(*config.Config) (map[string]fetch.PageSource, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSources 覆盖数据源构造，测试时注入假源。
func WithSources(fn func(*config.Config) (map[string]fetch.PageSource, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourcesFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		sourcesFn: buildSources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// buildSources 按配置构造上游数据源：原生 REST 走自带的分页客户端，
// sdk 走 adshao 封装。两个都注册，fetch.source 决定缺省。
func buildSources(cfg *config.Config) (map[string]fetch.PageSource, error) {
	rest, err := fetch.NewRESTSource(fetch.NewKlineAPI(cfg.Binance.BaseURL, cfg.Binance.Timeout()))
	if err != nil {
		return nil, err
	}
	return map[string]fetch.PageSource{
		"rest": rest,
		"sdk":  fetch.NewSDKSource(cfg.Binance.BaseURL, cfg.Binance.Timeout()),
	}, nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	candleStore, err := store.NewCandleStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.RunsPath), 0o755); err != nil {
		return nil, err
	}
	runs, err := runstore.Open(cfg.Store.RunsPath)
	if err != nil {
		return nil, fmt.Errorf("初始化回测库失败: %w", err)
	}

	sources, err := b.sourcesFn(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := server.NewService(server.ServiceConfig{
		Store:           candleStore,
		Runs:            runs,
		Sources:         sources,
		DefaultSource:   cfg.Fetch.Source,
		FetchLimit:      cfg.Fetch.Limit,
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		InterPageDelay:  cfg.Fetch.InterPageDelay(),
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		svc:         svc,
		candleStore: candleStore,
		runs:        runs,
	}

	if cfg.Server.Enabled {
		httpSrv, err := server.NewHTTPServer(server.HTTPConfig{Addr: cfg.Server.Addr, Svc: svc})
		if err != nil {
			return nil, err
		}
		a.httpSrv = httpSrv
	}

	if cfg.Profiles.Path != "" {
		loader, err := profile.NewLoader(cfg.Profiles.Path)
		if err != nil {
			return nil, fmt.Errorf("加载 profiles 失败: %w", err)
		}
		a.profiles = loader
	}

	a.Summary = buildSummary(cfg, sources, a.profiles)
	return a, nil
}
