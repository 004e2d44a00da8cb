// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the producer server and the
// observer. It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Media struct {
		Path      string `mapstructure:"path"`
		URLPrefix string `mapstructure:"url_prefix"`
	} `mapstructure:"media"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Observer ObserverConfig `mapstructure:"observer"`
	Logging  struct {
		Development bool `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// IMAPConfig describes the mailbox a fetch run reads from.
type IMAPConfig struct {
	Provider  string `mapstructure:"provider"`
	Host      string `mapstructure:"host"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Mailbox   string `mapstructure:"mailbox"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ObserverConfig configures mailwatch.
type ObserverConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	LogFile       string `mapstructure:"log_file"`
	PreviewLength int    `mapstructure:"preview_length"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with config.yml looked up in dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")
	v.AddConfigPath(dir)

	// MAILPULSE_IMAP_PASSWORD overrides imap.password, and so on.
	v.SetEnvPrefix("MAILPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8000)
	v.SetDefault("database.path", "./mailpulse.db")
	v.SetDefault("media.path", "./media")
	v.SetDefault("media.url_prefix", "/media/")
	v.SetDefault("imap.provider", "gmail")
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.batch_size", 50)
	v.SetDefault("observer.base_url", "http://localhost:8000")
	v.SetDefault("observer.log_file", "./mailwatch.log")
	v.SetDefault("observer.preview_length", 50)
	v.SetDefault("logging.development", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.IMAP.BatchSize <= 0 {
		return fmt.Errorf("config: imap.batch_size must be positive, got %d", c.IMAP.BatchSize)
	}
	if c.Observer.PreviewLength < 0 {
		return fmt.Errorf("config: observer.preview_length must not be negative")
	}
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	return nil
}
