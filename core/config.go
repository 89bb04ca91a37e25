package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 对应 config.yaml 的结构
type Config struct {
	Audio   AudioConfig   `mapstructure:"audio"`
	Control ControlConfig `mapstructure:"control"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Logging LoggingConfig `mapstructure:"logging"`
	Debug   bool          `mapstructure:"debug"`
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend"`
	SampleRate    int    `mapstructure:"sample_rate"`
	Channels      int    `mapstructure:"channels"`
	FrameDuration int    `mapstructure:"frame_duration"`
}

type ControlConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bitrate int  `mapstructure:"bitrate"`
}

type LoggingConfig struct {
	Level   string   `mapstructure:"level"`
	Format  string   `mapstructure:"format"`
	Outputs []string `mapstructure:"outputs"`
}

const envPrefix = "MICRELAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", "malgo")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_duration", 20)
	v.SetDefault("control.listen", "127.0.0.1:8765")
	v.SetDefault("control.path", "/control")
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.bitrate", 32000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("debug", false)
}

// LoadConfig 加载配置。configPath 为空时按默认路径搜索，找不到文件则只用默认值和环境变量
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/micrelay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("%w: audio.channels must be 1 or 2", ErrInvalidConfig)
	}
	if c.Audio.FrameDuration <= 0 {
		return fmt.Errorf("%w: audio.frame_duration must be positive", ErrInvalidConfig)
	}
	if c.Control.Listen == "" {
		return fmt.Errorf("%w: control.listen is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Control.Path, "/") {
		return fmt.Errorf("%w: control.path must start with /", ErrInvalidConfig)
	}
	return nil
}
