package profile

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"crossbt/internal/backtest"
	"crossbt/internal/logger"
	"crossbt/internal/market"
)

// Definition 描述单个回测 Profile：交易对、周期、初始资金与策略参数。
type Definition struct {
	Name           string          `mapstructure:"-" yaml:"-"`
	Symbol         string          `yaml:"symbol"`
	Interval       string          `yaml:"interval"`
	InitialCapital float64         `yaml:"initial_capital"`
	Params         backtest.Params `yaml:"params"`
	Default        bool            `yaml:"default"`
}

// Snapshot 对外暴露的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Definition
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(Snapshot)

// Loader 从 YAML 文件加载 profile，经 JSON Schema 校验后发布快照，
// 并监听文件热更新。
type Loader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewLoader 读取配置文件并开始监听 FS 事件。
func NewLoader(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader 需要文件路径")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取 profile 配置失败: %w", err)
	}
	loader := &Loader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile 重载失败 (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前配置快照（浅拷贝 map）。
func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Get 按名称查找 profile。
func (l *Loader) Get(name string) (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[name]
	return def, ok
}

// DefaultProfile 返回标记为 default 的 profile；没有则返回 false。
func (l *Loader) DefaultProfile() (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, def := range l.snapshot.Profiles {
		if def.Default {
			return def, true
		}
	}
	return Definition{}, false
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *Loader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *Loader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *Loader) reload() error {
	raw := l.v.GetStringMap("profiles")
	if len(raw) == 0 {
		return fmt.Errorf("配置文件没有任何 profile: %s", l.path)
	}
	normalized := make(map[string]Definition, len(raw))
	for name, val := range raw {
		if err := validateRawProfile(val); err != nil {
			return fmt.Errorf("profile %q 校验失败: %w", name, err)
		}
		def, err := decodeProfile(name, val)
		if err != nil {
			return fmt.Errorf("profile %q 解析失败: %w", name, err)
		}
		normalized[name] = def
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("profile loader 已从 %s 加载 %d 个 profile", filepath.Base(l.path), len(normalized))
	return nil
}

// decodeProfile 在缺省参数之上覆盖用户提供的字段。
func decodeProfile(name string, raw interface{}) (Definition, error) {
	def := Definition{
		InitialCapital: 10000,
		Params:         backtest.DefaultParams(),
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &def,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Definition{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Definition{}, err
	}
	def.Name = name
	def.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
	def.Interval = strings.ToLower(strings.TrimSpace(def.Interval))
	if def.Symbol == "" {
		return Definition{}, fmt.Errorf("symbol 必填")
	}
	if _, err := market.ParseInterval(def.Interval); err != nil {
		return Definition{}, err
	}
	if def.InitialCapital <= 0 {
		return Definition{}, fmt.Errorf("initial_capital 必须为正数: %v", def.InitialCapital)
	}
	if err := def.Params.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// validateRawProfile 先用 JSON Schema 拦住结构性错误，再做语义检查。
// viper 解析出的值可能带 Go 原生整型，走一次 JSON 往返归一化。
func validateRawProfile(raw interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return err
	}
	return profileSchema.Validate(doc)
}

var profileSchema = jsonschema.MustCompileString("profile.json", profileSchemaSource)

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Definition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
