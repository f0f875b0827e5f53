package universe

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"volna/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Instrument 描述一个被跟踪标的及其交易元数据。
type Instrument struct {
	Symbol    string `yaml:"-" json:"symbol"`
	Name      string `yaml:"name" json:"name"`
	LotSize   int64  `yaml:"lot_size" json:"lot_size"`
	PriceStep string `yaml:"price_step" json:"price_step"`
	Disabled  bool   `yaml:"disabled" json:"disabled,omitempty"`

	step decimal.Decimal
}

// Step 返回最小报价单位（已解析为 decimal）。
func (i Instrument) Step() decimal.Decimal { return i.step }

// NewInstrument 程序化构造标的（交易所元数据、测试）。
func NewInstrument(symbol, name string, lotSize int64, step decimal.Decimal) Instrument {
	return Instrument{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Name:      name,
		LotSize:   lotSize,
		PriceStep: step.String(),
		step:      step,
	}
}

type fileConfig struct {
	Instruments map[string]Instrument `yaml:"instruments"`
}

// Snapshot 公开的标的清单快照。
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Instruments map[string]Instrument
}

// Ordered 按 symbol 升序返回启用的标的。回测依赖该顺序
// 保证共享资金争用的可复现性。
func (s Snapshot) Ordered() []Instrument {
	out := make([]Instrument, 0, len(s.Instruments))
	for _, inst := range s.Instruments {
		if inst.Disabled {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Symbol < out[b].Symbol })
	return out
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理标的清单文件，支持热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

const schemaJSON = `{
  "type": "object",
  "required": ["instruments"],
  "properties": {
    "instruments": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["lot_size", "price_step"],
        "properties": {
          "name": {"type": "string"},
          "lot_size": {"type": "integer", "minimum": 1},
          "price_step": {"type": ["string", "number"]},
          "disabled": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("universe.schema.json", schemaJSON)

// NewRegistry 读取标的清单并监听文件更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("universe registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read universe config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("universe reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前标的清单。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Instrument 返回指定 symbol 的标的。
func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.snapshot.Instruments[strings.ToUpper(strings.TrimSpace(symbol))]
	return inst, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read universe file failed: %w", err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse universe yaml failed: %w", err)
	}
	instruments := make(map[string]Instrument, len(fc.Instruments))
	for sym, inst := range fc.Instruments {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		inst.Symbol = sym
		step, err := decimal.NewFromString(strings.TrimSpace(inst.PriceStep))
		if err != nil || step.Sign() <= 0 {
			return fmt.Errorf("instrument %s has invalid price_step %q", sym, inst.PriceStep)
		}
		inst.step = step
		if inst.LotSize <= 0 {
			return fmt.Errorf("instrument %s has invalid lot_size %d", sym, inst.LotSize)
		}
		instruments[sym] = inst
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Instruments: instruments,
	}
	count := len(instruments)
	r.mu.Unlock()
	logger.Infof("universe loaded: %d instruments from %s", count, r.path)
	return nil
}

func validateAgainstSchema(raw []byte) error {
	var node any
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("parse universe yaml failed: %w", err)
	}
	// jsonschema 只接受 encoding/json 的值类型，先绕道 JSON。
	buf, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("normalize universe file failed: %w", err)
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return fmt.Errorf("normalize universe file failed: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("universe file schema invalid: %w", err)
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	snap := cloneSnapshot(r.snapshot)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Version: s.Version, LoadedAt: s.LoadedAt}
	out.Instruments = make(map[string]Instrument, len(s.Instruments))
	for k, v := range s.Instruments {
		out.Instruments[k] = v
	}
	return out
}
