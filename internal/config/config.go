// Package config loads beeroll settings from a YAML file with environment
// overrides, and persists user preferences back to it.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr    string   `mapstructure:"listen_addr"`
	DataDir       string   `mapstructure:"data_dir"`
	Quality       string   `mapstructure:"quality"`
	AutoCompress  bool     `mapstructure:"auto_compress"`
	FFmpegPath    string   `mapstructure:"ffmpeg_path"`
	RetentionDays int      `mapstructure:"retention_days"`
	LogLevel      string   `mapstructure:"log_level"`
	LogFormat     string   `mapstructure:"log_format"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
}

func Default() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:8787",
		DataDir:       defaultDataDir(),
		Quality:       "balanced",
		AutoCompress:  true,
		RetentionDays: 30,
		LogLevel:      "info",
		LogFormat:     "text",
		CORSOrigins:   []string{"*"},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("beeroll")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BEEROLL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("listen_addr", cfg.ListenAddr)
	viper.Set("data_dir", cfg.DataDir)
	viper.Set("quality", cfg.Quality)
	viper.Set("auto_compress", cfg.AutoCompress)
	viper.Set("ffmpeg_path", cfg.FFmpegPath)
	viper.Set("retention_days", cfg.RetentionDays)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("cors_origins", cfg.CORSOrigins)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "beeroll.yaml")
		if err := os.MkdirAll(configDir(), 0o755); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	home, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "beeroll")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "Videos", "beeroll")
	default:
		return filepath.Join(home, "beeroll")
	}
}
