package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Download   DownloadConfig   `mapstructure:"download"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Validation ValidationConfig `mapstructure:"validation"`
	Badge      BadgeConfig      `mapstructure:"badge"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug or release
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DownloadConfig 下载落盘的根目录，settings 中的 downloadPath 是它下面的子目录
type DownloadConfig struct {
	Dir string `mapstructure:"dir"`
	// SweepInterval 清理上次退出遗留的 in_progress 记录
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ResolverConfig 磁力 hash -> .torrent 的转换服务
type ResolverConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, <= 0 disables
	Burst     int           `mapstructure:"burst"`
	UserAgent string        `mapstructure:"user_agent"`
}

type ValidationConfig struct {
	Delay   time.Duration `mapstructure:"delay"`
	MinSize int64         `mapstructure:"min_size"`
}

type BadgeConfig struct {
	ClearDelay time.Duration `mapstructure:"clear_delay"`
}

var AppConfig *Config

func LoadConfig(configPath string) error {
	v := viper.New()

	// 默认值
	v.SetDefault("server.port", 8307)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.path", "data/torrentlink.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.sweep_interval", 15*time.Minute)
	v.SetDefault("resolver.base_url", "https://itorrents.org/torrent/")
	v.SetDefault("resolver.timeout", 30*time.Second)
	v.SetDefault("resolver.rate_limit", 2.0)
	v.SetDefault("resolver.burst", 4)
	v.SetDefault("resolver.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("validation.delay", 3*time.Second)
	v.SetDefault("validation.min_size", 100)
	v.SetDefault("badge.clear_delay", 3*time.Second)

	// 配置文件路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	// 环境变量替换 (使用 TORRENTLINK_ 前缀)
	// 比如 TORRENTLINK_SERVER_PORT=9090
	v.SetEnvPrefix("TORRENTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, use defaults
		fmt.Println("Config file not found, using defaults")
	}

	AppConfig = &Config{}
	if err := v.Unmarshal(AppConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !strings.HasSuffix(AppConfig.Resolver.BaseURL, "/") {
		AppConfig.Resolver.BaseURL += "/"
	}

	return nil
}
