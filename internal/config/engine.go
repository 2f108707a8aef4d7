package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig holds tunables that may change without a restart.
type EngineConfig struct {
	Reporting ReportingConfig `mapstructure:"reporting"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
}

type ReportingConfig struct {
	DefaultMonths int `mapstructure:"defaultMonths"`
	MaxMonths     int `mapstructure:"maxMonths"`
	DefaultYears  int `mapstructure:"defaultYears"`
	MaxYears      int `mapstructure:"maxYears"`
}

type SweepConfig struct {
	BatchSize int `mapstructure:"batchSize"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Reporting: ReportingConfig{
			DefaultMonths: 12,
			MaxMonths:     60,
			DefaultYears:  5,
			MaxYears:      20,
		},
		Sweep: SweepConfig{BatchSize: 200},
	}
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder returns a holder that never reloads.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewEngineConfigHolder reads engine.yml and keeps watching it for changes.
func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	log = log.Named("config.engine")
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/invoicing")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.reporting.defaultMonths", defaults.Reporting.DefaultMonths)
	v.SetDefault("engine.reporting.maxMonths", defaults.Reporting.MaxMonths)
	v.SetDefault("engine.reporting.defaultYears", defaults.Reporting.DefaultYears)
	v.SetDefault("engine.reporting.maxYears", defaults.Reporting.MaxYears)
	v.SetDefault("engine.sweep.batchSize", defaults.Sweep.BatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Warn("engine config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	if h == nil {
		return DefaultEngineConfig()
	}
	return h.current.Load().(EngineConfig)
}

func validateEngineConfig(cfg EngineConfig) error {
	r := cfg.Reporting
	if r.DefaultMonths <= 0 || r.MaxMonths <= 0 || r.DefaultMonths > r.MaxMonths {
		return errors.New("engine.reporting months window is invalid")
	}
	if r.DefaultYears <= 0 || r.MaxYears <= 0 || r.DefaultYears > r.MaxYears {
		return errors.New("engine.reporting years window is invalid")
	}
	if cfg.Sweep.BatchSize <= 0 {
		return errors.New("engine.sweep.batchSize must be positive")
	}
	return nil
}
