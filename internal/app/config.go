package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/detection"
	"github.com/HolyFlex-tecjh/axion/internal/adapters/tracking"
)

// Config is the complete moderation configuration. Every group maps to one
// top-level YAML key.
type Config struct {
	Content    detection.ContentConfig  `mapstructure:"content"`
	Behavior   detection.BehaviorConfig `mapstructure:"behavior"`
	Context    detection.ContextConfig  `mapstructure:"context"`
	Escalation EscalationSettings       `mapstructure:"escalation"`
	Raid       tracking.RaidConfig      `mapstructure:"raid"`
	Profile    tracking.ProfileConfig   `mapstructure:"profile"`
	Actions    ActionConfig             `mapstructure:"actions"`
	Rules      RulesConfig              `mapstructure:"rules"`
	Workers    WorkerPoolConfig         `mapstructure:"workers"`
	Output     OutputConfig             `mapstructure:"output"`
	Logging    LoggingConfig            `mapstructure:"logging"`

	// Clock overrides time.Now in every tracker. Tests only.
	Clock func() time.Time `mapstructure:"-" json:"-"`
}

// EscalationSettings configures the escalation engine. A zero Multiplier
// takes the value of Preset.
type EscalationSettings struct {
	Preset        string        `mapstructure:"preset" validate:"omitempty,oneof=lenient balanced strict"`
	Window        time.Duration `mapstructure:"window" validate:"gt=0"`
	Threshold     int           `mapstructure:"threshold" validate:"gt=0"`
	Multiplier    float64       `mapstructure:"multiplier" validate:"eq=0|gte=1"`
	MaxHistory    int           `mapstructure:"max_history" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// EngineConfig resolves the preset into an engine configuration.
func (s EscalationSettings) EngineConfig() (tracking.EscalationConfig, error) {
	cfg := tracking.EscalationConfig{
		Window:        s.Window,
		Threshold:     s.Threshold,
		Multiplier:    s.Multiplier,
		MaxHistory:    s.MaxHistory,
		SweepInterval: s.SweepInterval,
	}
	if cfg.Multiplier == 0 {
		m, err := tracking.PresetMultiplier(s.Preset)
		if err != nil {
			return cfg, err
		}
		cfg.Multiplier = m
	}
	return cfg, nil
}

type RulesConfig struct {
	DecisionThreshold float64                     `mapstructure:"decision_threshold" validate:"gte=0,lte=1"` // Score counted as effective (default: 0.5)
	Defaults          bool                        `mapstructure:"defaults"`                                  // Load the built-in rules (default: true)
	Disabled          []string                    `mapstructure:"disabled"`                                  // Rule IDs loaded disabled
	BlockedTerms      []string                    `mapstructure:"blocked_terms"`
	KnownSpam         detection.FingerprintConfig `mapstructure:"known_spam"`
	KnownSpamFile     string                      `mapstructure:"known_spam_file"` // One message per line
	Custom            []RuleConfig                `mapstructure:"custom" validate:"dive"`
}

type OutputConfig struct {
	JSON     JSONOutputConfig     `mapstructure:"json"`
	Memory   int                  `mapstructure:"memory" validate:"gte=0"` // Alerts kept for the console (default: 100)
	Metrics  MetricsOutputConfig  `mapstructure:"metrics"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Throttle ThrottleOutputConfig `mapstructure:"throttle"`
}

type JSONOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stdout  bool   `mapstructure:"stdout"`
	Path    string `mapstructure:"path"`
	Pretty  bool   `mapstructure:"pretty"`
}

type MetricsOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

type RedisOutputConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Channel  string        `mapstructure:"channel" validate:"required_if=Enabled true"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// ThrottleOutputConfig limits alerts per guild before they reach the outputs.
// A zero Limit disables throttling.
type ThrottleOutputConfig struct {
	Limit  int64         `mapstructure:"limit" validate:"gte=0"`
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns the built-in configuration. LoadConfig overlays the
// file on top of it.
func DefaultConfig() Config {
	esc := tracking.DefaultEscalationConfig()
	return Config{
		Content:  detection.DefaultContentConfig(),
		Behavior: detection.DefaultBehaviorConfig(),
		Context:  detection.DefaultContextConfig(),
		Escalation: EscalationSettings{
			Preset:        tracking.PresetBalanced,
			Window:        esc.Window,
			Threshold:     esc.Threshold,
			MaxHistory:    esc.MaxHistory,
			SweepInterval: esc.SweepInterval,
		},
		Raid:    tracking.DefaultRaidConfig(),
		Profile: tracking.DefaultProfileConfig(),
		Actions: DefaultActionConfig(),
		Rules: RulesConfig{
			DecisionThreshold: 0.5,
			Defaults:          true,
			KnownSpam:         detection.DefaultFingerprintConfig(),
		},
		Workers: DefaultWorkerPoolConfig(),
		Output: OutputConfig{
			JSON:     JSONOutputConfig{Stdout: true},
			Memory:   100,
			Metrics:  MetricsOutputConfig{Enabled: true, Addr: ":9090"},
			Redis:    RedisOutputConfig{Addr: "localhost:6379", Channel: "axion:alerts", Timeout: 2 * time.Second},
			Throttle: ThrottleOutputConfig{Limit: 30, Window: time.Minute},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig decodes v over DefaultConfig and validates the result.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules.
//
// Returns:
//   - *domain.ConfigValidationError naming the first rejected field
//   - ErrDuplicateRule when two rules share an ID
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if err := c.Actions.validate(); err != nil {
		return err
	}
	if _, err := c.Escalation.EngineConfig(); err != nil {
		return err
	}
	if _, err := BuildRules(c.Rules); err != nil {
		return err
	}
	return nil
}

// withClock propagates the test clock into the tracker configurations.
func (c *Config) withClock() {
	if c.Clock == nil {
		return
	}
	c.Raid.Now = c.Clock
	c.Profile.Now = c.Clock
}

// ConfigWatcher re-reads the configuration file when it changes and hands
// each valid version to apply. An invalid file is logged and ignored; the
// previous configuration stays in effect.
//
// Thread Safety: Reload and Current are safe for concurrent use.
type ConfigWatcher struct {
	v        *viper.Viper
	current  atomic.Pointer[Config]
	apply    func(*Config) error
	debounce time.Duration

	mu       sync.Mutex // serializes reloads
	timerMu  sync.Mutex
	timer    *time.Timer
	stopped  atomic.Bool
	reloads  atomic.Int64
	rejected atomic.Int64
}

// NewConfigWatcher creates a watcher. debounce coalesces the bursts of write
// events editors produce (default: 500ms).
func NewConfigWatcher(v *viper.Viper, initial *Config, debounce time.Duration, apply func(*Config) error) *ConfigWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &ConfigWatcher{v: v, apply: apply, debounce: debounce}
	w.current.Store(initial)
	return w
}

func (w *ConfigWatcher) Current() *Config {
	return w.current.Load()
}

// Start registers the file watch.
func (w *ConfigWatcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if w.stopped.Load() {
			return
		}
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading...")

		w.timerMu.Lock()
		defer w.timerMu.Unlock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = time.AfterFunc(w.debounce, func() {
			if !w.stopped.Load() {
				_ = w.Reload()
			}
		})
	})
	w.v.WatchConfig()
	log.Info().Str("config", w.v.ConfigFileUsed()).Msg("Hot-reload config watching started")
}

// Reload re-reads the file, validates it and applies it.
func (w *ConfigWatcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.v.ReadInConfig(); err != nil {
		w.rejected.Add(1)
		log.Error().Err(err).Msg("Failed to re-read config, keeping current configuration")
		return err
	}
	cfg, err := LoadConfig(w.v)
	if err != nil {
		w.rejected.Add(1)
		log.Error().Err(err).Msg("Invalid configuration, rejecting reload")
		return err
	}
	if w.apply != nil {
		if err := w.apply(cfg); err != nil {
			w.rejected.Add(1)
			log.Error().Err(err).Msg("Failed to apply configuration, keeping current")
			return err
		}
	}
	w.current.Store(cfg)
	w.reloads.Add(1)
	log.Info().Int64("reloads", w.reloads.Load()).Msg("Configuration hot-reloaded successfully")
	return nil
}

// Reloads returns the number of applied and rejected reloads.
func (w *ConfigWatcher) Reloads() (applied, rejected int64) {
	return w.reloads.Load(), w.rejected.Load()
}

func (w *ConfigWatcher) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
	log.Info().Msg("Hot-reload config watcher stopped")
}
