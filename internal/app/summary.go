package app

import (
	"fmt"
	"sort"
	"strings"

	"crossbt/internal/config"
	"crossbt/internal/fetch"
	"crossbt/internal/profile"
)

type StartupSummary struct {
	DataDir  string
	RunsPath string
	Sources  []string
	Default  string
	Fetch    FetchSummary
	Server   ServerSummary
	Profiles []ProfileSummary
}

type FetchSummary struct {
	Interval    string
	Limit       int
	MaxAttempts int
	InterPageMS int
	RatePerMin  int
}

type ServerSummary struct {
	Enabled bool
	Addr    string
}

type ProfileSummary struct {
	Name     string
	Symbol   string
	Interval string
	Default  bool
}

func buildSummary(cfg *config.Config, sources map[string]fetch.PageSource, profiles *profile.Loader) *StartupSummary {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &StartupSummary{
		DataDir:  cfg.Store.DataDir,
		RunsPath: cfg.Store.RunsPath,
		Sources:  names,
		Default:  cfg.Fetch.Source,
		Fetch: FetchSummary{
			Interval:    cfg.Fetch.Interval,
			Limit:       cfg.Fetch.Limit,
			MaxAttempts: cfg.Fetch.MaxAttempts,
			InterPageMS: cfg.Fetch.InterPageDelayMS,
			RatePerMin:  cfg.Fetch.RateLimitPerMin,
		},
		Server: ServerSummary{Enabled: cfg.Server.Enabled, Addr: cfg.Server.Addr},
	}
	if profiles != nil {
		snap := profiles.Snapshot()
		keys := make([]string, 0, len(snap.Profiles))
		for name := range snap.Profiles {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			def := snap.Profiles[name]
			s.Profiles = append(s.Profiles, ProfileSummary{
				Name:     name,
				Symbol:   def.Symbol,
				Interval: def.Interval,
				Default:  def.Default,
			})
		}
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("%*s\n", 36+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 72))

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  K线缓存: %s\n", s.DataDir)
	fmt.Printf("  回测库:  %s\n", s.RunsPath)
	fmt.Println()

	fmt.Println("[拉取 (FETCH)]")
	fmt.Printf("  数据源: %s (缺省: %s)\n", formatList(s.Sources), s.Default)
	fmt.Printf("  周期: %s  单页: %d  重试: %d 次  页间: %dms  限速: %d/min\n",
		s.Fetch.Interval, s.Fetch.Limit, s.Fetch.MaxAttempts, s.Fetch.InterPageMS, s.Fetch.RatePerMin)
	fmt.Println()

	fmt.Println("[服务 (SERVER)]")
	if s.Server.Enabled {
		fmt.Printf("  HTTP 监听: %s\n", s.Server.Addr)
	} else {
		fmt.Println("  HTTP 未启用")
	}
	fmt.Println()

	fmt.Println("[参数组 (PROFILES)]")
	if len(s.Profiles) == 0 {
		fmt.Println("  (未配置)")
	} else {
		for _, p := range s.Profiles {
			mark := " "
			if p.Default {
				mark = "*"
			}
			fmt.Printf("  %s %s: %s %s\n", mark, p.Name, p.Symbol, p.Interval)
		}
	}
	fmt.Println(strings.Repeat("=", 72))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
