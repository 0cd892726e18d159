// Package config loads playback settings from defaults, an optional
// config file, GRAPH_ environment variables and command line flags.
package config

import (
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sys/cpu"

	"pipelined.dev/graph"
	"pipelined.dev/graph/log"
	"pipelined.dev/graph/pool"
	"pipelined.dev/graph/render"
)

// EnvPrefix is the prefix of environment overrides, GRAPH_POOL_SIZE sets
// pool.size.
const EnvPrefix = "GRAPH"

// Devices known by the player.
const (
	DeviceNull      = "null"
	DeviceOto       = "oto"
	DevicePortaudio = "portaudio"
	DeviceWinmm     = "winmm"
)

// CacheLine is the cache line size of the running CPU, the default buffer
// alignment.
var CacheLine = int(unsafe.Sizeof(cpu.CacheLinePad{}))

// Config is the playback configuration.
type Config struct {
	LogLevel string `mapstructure:"loglevel"`
	Device   string `mapstructure:"device"`
	Pool     Pool   `mapstructure:"pool"`
	Render   Render `mapstructure:"render"`
}

// Pool configures the reader allocator.
type Pool struct {
	Buffers int `mapstructure:"buffers"`
	Size    int `mapstructure:"size"`
	Align   int `mapstructure:"align"`
	Prefix  int `mapstructure:"prefix"`
}

// Render configures the audio renderer.
type Render struct {
	Volume   int  `mapstructure:"volume"`
	Balance  int  `mapstructure:"balance"`
	Realtime bool `mapstructure:"realtime"`
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("loglevel", "info")
	v.SetDefault("device", DeviceNull)
	v.SetDefault("pool.buffers", 4)
	v.SetDefault("pool.size", 4096)
	v.SetDefault("pool.align", CacheLine)
	v.SetDefault("pool.prefix", 0)
	v.SetDefault("render.volume", 0)
	v.SetDefault("render.balance", 0)
	v.SetDefault("render.realtime", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Bind binds flags to keys. Unknown flag names are skipped.
func Bind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the config file if path is set and returns the validated
// configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Device {
	case DeviceNull, DeviceOto, DevicePortaudio, DeviceWinmm:
	default:
		return errors.Wrapf(graph.ErrInvalidArgument, "unknown device %q", c.Device)
	}
	if c.Pool.Buffers < 1 || c.Pool.Size < 1 || c.Pool.Prefix < 0 {
		return errors.Wrapf(graph.ErrInvalidArgument, "pool %+v", c.Pool)
	}
	if c.Pool.Align < 1 || c.Pool.Align&(c.Pool.Align-1) != 0 {
		return errors.Wrapf(graph.ErrInvalidArgument, "alignment %d is not a power of two", c.Pool.Align)
	}
	if c.Render.Volume < render.VolumeMin || c.Render.Volume > render.VolumeMax {
		return errors.Wrapf(graph.ErrInvalidArgument, "volume %d", c.Render.Volume)
	}
	if c.Render.Balance < render.BalanceMin || c.Render.Balance > render.BalanceMax {
		return errors.Wrapf(graph.ErrInvalidArgument, "balance %d", c.Render.Balance)
	}
	return nil
}

// Properties returns the reader allocator properties.
func (c *Config) Properties() pool.Properties {
	return pool.Properties{
		Count:  c.Pool.Buffers,
		Size:   c.Pool.Size,
		Align:  c.Pool.Align,
		Prefix: c.Pool.Prefix,
	}
}

// Apply sets the log level of loggers created afterwards.
func (c *Config) Apply() error {
	return log.ParseLevel(c.LogLevel)
}
