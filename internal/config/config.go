// Package config loads the Kestrel configuration from an optional YAML file
// and KESTREL_* environment variables on top of the tier defaults.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. KESTREL_SERVER_PORT.
const EnvPrefix = "KESTREL"

// Load reads path (if non-empty) and the environment. The tier setting,
// from either source, picks DefaultConfig or ProConfig as the base.
func Load(path string) (*domain.Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// New returns a viper instance bound to the KESTREL environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes the configuration held by v. Flags bound to v with
// BindPFlag take precedence over file and environment values.
func FromViper(v *viper.Viper) (*domain.Config, error) {
	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(base).Elem())

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of the config struct under its dotted
// mapstructure key, which also makes the key visible to AutomaticEnv.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, key, field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}

// Validate rejects settings no component can run with.
func Validate(cfg *domain.Config) error {
	if cfg.Model.Threshold < 0 || cfg.Model.Threshold > 1 {
		return fmt.Errorf("model.threshold must be within [0, 1], got %v", cfg.Model.Threshold)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Explainer.NumSamples < 0 || cfg.Explainer.ReferenceSize < 0 || cfg.Explainer.NumFeatures < 0 {
		return fmt.Errorf("explainer sizes must not be negative")
	}
	if cfg.Report.MaxConcurrent < 0 {
		return fmt.Errorf("report.max_concurrent must not be negative")
	}
	return nil
}
