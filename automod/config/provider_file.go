package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Root of a configuration file: guild ID to guild configuration.
type fileConfig struct {
	Guilds map[string]*GuildConfig `mapstructure:"guilds"`
}

// Provider backed by a YAML, JSON, or TOML file. Can optionally watch the file and reload on change; a reload which fails validation is logged and the previous configuration stays active.
type FileProvider struct {
	Logger *slog.Logger

	v      *viper.Viper
	guilds atomic.Pointer[map[string]*GuildConfig]
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading guild config %s: %w", path, err)
	}
	p := &FileProvider{
		Logger: logger.With("component", "config", "path", path),
		v:      v,
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Starts watching the config file for changes.
func (p *FileProvider) Watch() {
	p.v.OnConfigChange(func(e fsnotify.Event) {
		if err := p.load(); err != nil {
			p.Logger.Error("guild config reload failed, keeping previous config", "err", err)
			return
		}
		p.Logger.Info("reloaded guild config", "op", e.Op.String())
	})
	p.v.WatchConfig()
}

func (p *FileProvider) load() error {
	guilds, err := decodeGuilds(p.v)
	if err != nil {
		return err
	}
	p.guilds.Store(&guilds)
	p.Logger.Info("loaded guild config", "guilds", len(guilds))
	return nil
}

func (p *FileProvider) GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	guilds := p.guilds.Load()
	if guilds == nil {
		return nil, nil
	}
	return (*guilds)[guildID], nil
}

// Parses and validates guild configuration from raw bytes, in the given format ("yaml", "json", "toml").
func ParseGuildConfigs(raw []byte, format string) (map[string]*GuildConfig, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return decodeGuilds(v)
}

func decodeGuilds(v *viper.Viper) (map[string]*GuildConfig, error) {
	var fc fileConfig
	if err := v.Unmarshal(&fc, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	guilds := make(map[string]*GuildConfig, len(fc.Guilds))
	for id, gc := range fc.Guilds {
		if gc == nil {
			gc = &GuildConfig{}
		}
		gc.GuildID = id
		if err := gc.Validate(); err != nil {
			return nil, err
		}
		guilds[id] = gc
	}
	return guilds, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		ruleDefaultsHook,
		secondsDurationHook,
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	ruleType     = reflect.TypeOf(Rule{})
)

// Seeds the default punishment and clean settings into a rule's raw map, for the keys the file leaves out. An explicit zero is kept.
func ruleDefaultsHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != ruleType && to != reflect.PointerTo(ruleType) {
		return data, nil
	}
	raw, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	def := NewRule()
	out := make(map[string]any, len(raw)+3)
	out["punishment_duration"] = def.PunishmentDuration
	out["clean_count"] = def.CleanCount
	out["clean_duration"] = def.CleanDuration
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

// Durations may be written as a plain number of seconds, or as a Go duration string like "90s".
func secondsDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", v)
		}
		return d, nil
	}
	return data, nil
}
