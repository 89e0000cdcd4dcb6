package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Tuning holds read-path knobs that can change without a restart.
type Tuning struct {
	SearchTimeout        time.Duration `mapstructure:"searchTimeout"`
	TotalCountLimit      int64         `mapstructure:"totalCountLimit"`
	CountCacheTTL        time.Duration `mapstructure:"countCacheTTL"`
	DefaultPageSize      int           `mapstructure:"defaultPageSize"`
	MaxPageSize          int           `mapstructure:"maxPageSize"`
	DefaultStatusVersion int           `mapstructure:"defaultStatusVersion"`
}

func DefaultTuning() Tuning {
	return Tuning{
		SearchTimeout:        10 * time.Second,
		TotalCountLimit:      10000,
		CountCacheTTL:        30 * time.Second,
		DefaultPageSize:      100,
		MaxPageSize:          500,
		DefaultStatusVersion: 1,
	}
}

type TuningHolder struct {
	current atomic.Value // holds Tuning
}

// NewStaticTuningHolder returns a holder that never reloads.
func NewStaticTuningHolder(t Tuning) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(t)
	return holder
}

func NewTuningHolder(log *zap.Logger) (*TuningHolder, error) {
	v := viper.New()

	v.SetConfigName("projection")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/txledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TXLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTuning()
	v.SetDefault("search.searchTimeout", defaults.SearchTimeout)
	v.SetDefault("search.totalCountLimit", defaults.TotalCountLimit)
	v.SetDefault("search.countCacheTTL", defaults.CountCacheTTL)
	v.SetDefault("search.defaultPageSize", defaults.DefaultPageSize)
	v.SetDefault("search.maxPageSize", defaults.MaxPageSize)
	v.SetDefault("search.defaultStatusVersion", defaults.DefaultStatusVersion)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configFound = false
	}

	// keys missing from the file keep their defaults
	cfg := DefaultTuning()
	if err := v.UnmarshalKey("search", &cfg); err != nil {
		return nil, err
	}
	if err := validateTuning(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticTuningHolder(cfg)
	if !configFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultTuning()
		if err := v.UnmarshalKey("search", &updated); err != nil {
			log.Warn("tuning reload failed", zap.Error(err))
			return
		}
		if err := validateTuning(updated); err != nil {
			log.Warn("invalid tuning ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tuning reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TuningHolder) Get() Tuning {
	return h.current.Load().(Tuning)
}

func validateTuning(cfg Tuning) error {
	if cfg.SearchTimeout <= 0 {
		return errors.New("search.searchTimeout must be positive")
	}
	if cfg.DefaultPageSize <= 0 || cfg.MaxPageSize < cfg.DefaultPageSize {
		return errors.New("search page sizes are inconsistent")
	}
	if cfg.DefaultStatusVersion != 1 && cfg.DefaultStatusVersion != 2 {
		return errors.New("search.defaultStatusVersion must be 1 or 2")
	}
	return nil
}
